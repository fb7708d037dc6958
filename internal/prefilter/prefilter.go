// Package prefilter decides, without any I/O, whether an email is worth
// spending classification quota on.
package prefilter

import (
	"regexp"
	"strings"

	"github.com/sells-group/jobsync/internal/model"
)

// bodyScanChars bounds how much of the body keyword checks read.
const bodyScanChars = 500

// Reasons reported by Evaluate.
const (
	ReasonLinkedInSocial  = "linkedin_social"
	ReasonLinkedInSubject = "linkedin_subject_keyword"
	ReasonLinkedInBody    = "linkedin_body_keyword"
	ReasonLinkedInNoJob   = "linkedin_no_job_signal"
	ReasonJobDomain       = "job_domain"
	ReasonRecruitAddress  = "recruiting_address"
	ReasonSubject         = "subject_keyword"
	ReasonBody            = "body_keyword"
	ReasonNoSignal        = "no_signal"
)

// Decision is the outcome for one message.
type Decision struct {
	Relevant bool
	Reason   string
}

// linkedin.com is handled separately because it mixes job mail with
// social notifications.
var jobDomains = []string{
	"naukri.com", "indeed.com", "glassdoor.com", "monster.com",
	"wellfound.com", "angel.co", "lever.co", "greenhouse.io",
	"workday.com", "myworkday.com", "smartrecruiters.com", "icims.com",
	"taleo.net", "breezy.hr", "recruitee.com", "ashbyhq.com",
	"jobvite.com", "jobs-noreply",
}

var recruitingAddress = []*regexp.Regexp{
	regexp.MustCompile(`(?i)careers?\.`),
	regexp.MustCompile(`(?i)hiring\.`),
	regexp.MustCompile(`(?i)recruit`),
	regexp.MustCompile(`(?i)talent`),
	regexp.MustCompile(`(?i)^hr@`),
	regexp.MustCompile(`(?i)^jobs@`),
	regexp.MustCompile(`(?i)^no-?reply@.*(career|recruit|talent|hiring)`),
}

var linkedInSocial = []*regexp.Regexp{
	regexp.MustCompile(`(?i)accepted your invitation`),
	regexp.MustCompile(`(?i)wants? to connect`),
	regexp.MustCompile(`(?i)I'd like to (add|join|connect)`),
	regexp.MustCompile(`(?i)your posts? reached`),
	regexp.MustCompile(`(?i)connection request`),
	regexp.MustCompile(`(?i)thanks for being a valued member`),
	regexp.MustCompile(`(?i)your profile (photo|was changed|appeared)`),
	regexp.MustCompile(`(?i)your weekly newsletter`),
	regexp.MustCompile(`(?i)people viewed your profile`),
	regexp.MustCompile(`(?i)invitation to connect`),
	regexp.MustCompile(`(?i)sent you a connection`),
	regexp.MustCompile(`(?i)I (still )?want to connect`),
	regexp.MustCompile(`(?i)explore their network`),
	regexp.MustCompile(`(?i)I've sent you a connection`),
	regexp.MustCompile(`(?i)endorsed you`),
	regexp.MustCompile(`(?i)mentioned you`),
	regexp.MustCompile(`(?i)commented on`),
	regexp.MustCompile(`(?i)liked your`),
	regexp.MustCompile(`(?i)shared a post`),
	regexp.MustCompile(`(?i)new followers?`),
	regexp.MustCompile(`(?i)trending in your network`),
	regexp.MustCompile(`(?i)people are looking at`),
	regexp.MustCompile(`(?i)your network is growing`),
	regexp.MustCompile(`(?i)congratulated you`),
	regexp.MustCompile(`(?i)your activity update`),
}

var subjectKeywords = []string{
	"application", "applied", "viewed your application", "application was viewed",
	"viewed your profile", "your resume was", "resume was downloaded",
	"opened your application", "interview", "regret", "unfortunately", "hiring",
	"position", "career", "offer", "congratulations", "selected", "shortlisted",
	"assessment", "coding challenge", "technical round", "onboarding", "joining",
	"internship", "full-time", "full time", "job opportunity", "we reviewed",
	"we have reviewed", "your candidacy", "your resume", "thank you for applying",
	"next steps", "job alert", "new jobs", "recruiter", "talent acquisition",
	"we regret", "moved forward", "not moving forward", "other candidates",
}

var linkedInBodyKeywords = []string{
	"thank you for applying", "your application", "interview scheduled",
	"applied for", "job alert", "new job", "is hiring", "we regret", "offer letter",
}

var bodyKeywords = []string{
	"thank you for applying", "your application", "interview scheduled",
	"we regret", "offer letter", "congratulations", "we are pleased",
	"we would like to", "coding assessment",
}

var (
	angleAddr  = regexp.MustCompile(`<([^>]+)>`)
	senderHost = regexp.MustCompile(`@([^\s>]+)`)
)

// IsRelevant reports whether msg should be classified.
func IsRelevant(msg model.Message) bool {
	return Evaluate(msg).Relevant
}

// Evaluate runs the rule tiers in order and reports which one decided.
func Evaluate(msg model.Message) Decision {
	from := strings.ToLower(strings.TrimSpace(msg.Sender))
	subject := strings.ToLower(msg.Subject)
	body := strings.ToLower(model.Excerpt(msg.Body, bodyScanChars))
	domain := senderDomain(from)

	if strings.Contains(domain, "linkedin.com") {
		for _, re := range linkedInSocial {
			if re.MatchString(msg.Subject) {
				return Decision{false, ReasonLinkedInSocial}
			}
		}
		if containsAny(subject, subjectKeywords) {
			return Decision{true, ReasonLinkedInSubject}
		}
		if containsAny(body, linkedInBodyKeywords) {
			return Decision{true, ReasonLinkedInBody}
		}
		return Decision{false, ReasonLinkedInNoJob}
	}

	if domain != "" {
		if containsAny(domain, jobDomains) {
			return Decision{true, ReasonJobDomain}
		}
		addr := senderAddress(from)
		for _, re := range recruitingAddress {
			if re.MatchString(addr) {
				return Decision{true, ReasonRecruitAddress}
			}
		}
	}

	if containsAny(subject, subjectKeywords) {
		return Decision{true, ReasonSubject}
	}
	if containsAny(body, bodyKeywords) {
		return Decision{true, ReasonBody}
	}
	return Decision{false, ReasonNoSignal}
}

func senderDomain(from string) string {
	if m := senderHost.FindStringSubmatch(from); m != nil {
		return m[1]
	}
	return ""
}

// senderAddress returns the bare address so anchored patterns see its start.
func senderAddress(from string) string {
	if m := angleAddr.FindStringSubmatch(from); m != nil {
		return strings.TrimSpace(m[1])
	}
	return from
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
