package classify

import (
	"regexp"
	"strings"
)

// Aggregator labels used when a digest names no single employer.
const (
	ViaIndeed      = "Via Indeed"
	ViaLinkedIn    = "Via LinkedIn"
	ViaInternshala = "Via Internshala"
	UnknownCompany = "Unknown"
)

// portalDomains are senders that never identify the hiring company.
var portalDomains = []string{
	"linkedin.com", "naukri.com", "indeed.com", "glassdoor.com",
	"monster.com", "ziprecruiter.com", "dice.com", "angel.co",
	"gmail.com", "yahoo.com", "outlook.com", "hotmail.com",
	"googlemail.com", "protonmail.com", "icloud.com",
}

var genericSenderNames = []string{
	"no-reply", "noreply", "notifications", "info", "admin",
	"support", "careers", "jobs", "hiring",
}

var (
	angleAddr   = regexp.MustCompile(`<([^>]+)>`)
	bareAddr    = regexp.MustCompile(`([^\s]+@[^\s]+)`)
	displayName = regexp.MustCompile(`^"?([^"<]+)"?\s*<`)

	subjIndeedApplication = regexp.MustCompile(`(?i)^indeed application:`)
	subjApplyToJobsAt     = regexp.MustCompile(`(?i)^apply to jobs at (.+)`)
	subjListSplit         = regexp.MustCompile(`(?i),|\band\b`)
	subjInternshala       = regexp.MustCompile(`(?i)internshala`)
	subjNewInternships    = regexp.MustCompile(`(?i)\d+\+?\s+new internships? for\b`)
	subjPerfectMatch      = regexp.MustCompile(`(?i)your profile is a perfect match for these.*internships`)
	subjLinkedInAlert     = regexp.MustCompile(`^"[^"]+"\s*:\s+`)
	subjNewJobs           = regexp.MustCompile(`(?i)new jobs? (matching|for)\b`)
	subjJobAlert          = regexp.MustCompile(`(?i)\bjob alert\b`)
)

// NeedsCompanyFallback reports whether the model failed to name a company.
func NeedsCompanyFallback(company string) bool {
	c := strings.ToLower(strings.TrimSpace(company))
	return c == "" || c == "unknown" || c == "unknown company"
}

// FallbackCompany derives a company from the sender, then from known
// subject templates. It returns UnknownCompany when neither works.
func FallbackCompany(sender, subject string) string {
	if c := CompanyFromSender(sender); c != "" {
		return c
	}
	if c := CompanyFromSubject(subject); c != "" {
		return c
	}
	return UnknownCompany
}

// CompanyFromSender uses the sender's domain, unless it is a portal or
// webmail host, and then the display name, unless it is generic.
func CompanyFromSender(from string) string {
	var addr string
	if m := angleAddr.FindStringSubmatch(from); m != nil {
		addr = m[1]
	} else if m := bareAddr.FindStringSubmatch(from); m != nil {
		addr = m[1]
	}
	if at := strings.LastIndexByte(addr, '@'); at >= 0 {
		domain := strings.ToLower(addr[at+1:])
		if domain != "" && !isPortalDomain(domain) {
			parts := strings.Split(domain, ".")
			main := parts[0]
			if len(parts) >= 2 {
				main = parts[len(parts)-2]
			}
			if len(main) > 2 && main != "mail" && main != "email" {
				return strings.ToUpper(main[:1]) + main[1:]
			}
		}
	}

	if m := displayName.FindStringSubmatch(from); m != nil {
		name := strings.TrimSpace(m[1])
		lower := strings.ToLower(name)
		if len(name) > 2 && !containsAny(lower, genericSenderNames) && !isPortalName(lower) {
			return name
		}
	}
	return ""
}

// CompanyFromSubject recognizes aggregator digest and confirmation templates.
func CompanyFromSubject(subject string) string {
	s := strings.TrimSpace(subject)

	if subjIndeedApplication.MatchString(s) {
		return ViaIndeed
	}
	if m := subjApplyToJobsAt.FindStringSubmatch(s); m != nil {
		first := strings.TrimSpace(subjListSplit.Split(m[1], 2)[0])
		if len(first) > 1 {
			return first
		}
	}
	if subjInternshala.MatchString(s) || subjNewInternships.MatchString(s) || subjPerfectMatch.MatchString(s) {
		return ViaInternshala
	}
	if subjLinkedInAlert.MatchString(s) {
		return ViaLinkedIn
	}
	if subjNewJobs.MatchString(s) || subjJobAlert.MatchString(s) {
		return ViaIndeed
	}
	return ""
}

func isPortalDomain(domain string) bool {
	for _, p := range portalDomains {
		if strings.Contains(domain, p) {
			return true
		}
	}
	return false
}

func isPortalName(lowerName string) bool {
	for _, p := range portalDomains {
		label := strings.TrimSuffix(strings.TrimSuffix(p, ".com"), ".co")
		if strings.Contains(lowerName, label) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
