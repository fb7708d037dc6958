// Package guardrail overrides classifier verdicts that match known
// false-positive subject templates.
//
// Rules run in table order and each one sees the category left by the
// rules before it, so a later rule can only override an earlier one when
// its guard names the earlier rule's target.
package guardrail

import (
	"regexp"
	"slices"
	"strings"

	"github.com/sells-group/jobsync/internal/model"
)

// Correction records what the rule table changed for one message.
type Correction struct {
	From  model.Category
	To    model.Category
	Rules []string
}

// Changed reports whether the category moved.
func (c *Correction) Changed() bool {
	return c != nil && c.From != c.To
}

type matcher func(subject, sender string) bool

type rule struct {
	name string
	// on limits the rule to these current categories; empty means any.
	on     []model.Category
	unless []model.Category
	match  matcher
	to     model.Category
}

func (r rule) applies(cat model.Category) bool {
	if len(r.on) > 0 && !slices.Contains(r.on, cat) {
		return false
	}
	return !slices.Contains(r.unless, cat)
}

func subject(patterns ...string) matcher {
	res := compile(patterns)
	return func(s, _ string) bool {
		for _, re := range res {
			if re.MatchString(s) {
				return true
			}
		}
		return false
	}
}

func sender(patterns ...string) matcher {
	res := compile(patterns)
	return func(_, from string) bool {
		for _, re := range res {
			if re.MatchString(from) {
				return true
			}
		}
		return false
	}
}

func all(ms ...matcher) matcher {
	return func(s, from string) bool {
		for _, m := range ms {
			if !m(s, from) {
				return false
			}
		}
		return true
	}
}

func anyOf(ms ...matcher) matcher {
	return func(s, from string) bool {
		for _, m := range ms {
			if m(s, from) {
				return true
			}
		}
		return false
	}
}

func not(m matcher) matcher {
	return func(s, from string) bool { return !m(s, from) }
}

func compile(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

var (
	interview = []model.Category{model.CategoryInterview}
	offer     = []model.Category{model.CategoryOffer}
	personal  = []model.Category{model.CategoryInterview, model.CategoryOffer}
)

var rules = []rule{
	// Digests and alerts, whatever the verdict.
	{name: "wellfound_digest", match: subject(`new job:.+and \d+ more match`), to: model.CategoryOther},
	{name: "apply_to_jobs_at", match: subject(`^apply to jobs at `), to: model.CategoryOther},
	{name: "linkedin_search_alert", match: subject(`^".+":\s+.+and more$`), to: model.CategoryOther},
	{name: "internshala_digest", match: subject(
		`top internships? of the week`,
		`\d+\+?\s+new internships? for\b`,
		`your profile is a perfect match for these.*internships`,
		`matching your profile`,
	), to: model.CategoryOther},
	{name: "new_jobs_for", match: subject(`\d+\s+new jobs?\s+(for|matching)\b`), to: model.CategoryOther},
	{name: "job_alert", unless: []model.Category{model.CategoryApplied}, match: subject(`job alert`), to: model.CategoryOther},

	// Interview verdicts that are really pipeline steps or listings.
	{name: "hiring_reply_thread", on: interview, match: subject(`^re:\s*(urgent\s+)?hiring\s*[|│]`), to: model.CategoryRecruiter},
	{name: "hiring_pipes", on: interview, match: subject(`^(urgent\s+)?hiring\s*\|{1,2}`), to: model.CategoryRecruiter},
	{name: "shortlisted", on: interview, match: subject(`shortlist`), to: model.CategoryApplied},
	{name: "assignment_next_step", on: interview, match: subject(`assignment.*next step|next step.*assignment`), to: model.CategoryApplied},
	{name: "online_assessment", on: interview, match: subject(`online assessment|aptitude (test|assessment)`), to: model.CategoryApplied},
	{name: "induction", on: interview, match: subject(`induction|orientation`), to: model.CategoryOther},
	{name: "new_message_from", on: interview, match: subject(`^new message from `), to: model.CategoryApplied},
	{name: "more_new_jobs", on: interview, match: subject(`\d+\s+more\s+new\s+jobs?`), to: model.CategoryOther},
	{name: "is_hiring_a", on: interview, match: subject(`is hiring a `), to: model.CategoryOther},
	{name: "role_at_company_listing", on: interview, match: all(
		subject(`^[A-Za-z][\w\s/&()\-]+@\s+\w`),
		not(subject(`interview`)),
	), to: model.CategoryRecruiter},
	{name: "linkedin_search_prefix", on: interview, match: subject(`^".+":\s+`), to: model.CategoryOther},
	{name: "finish_your_interview", on: interview, match: subject(`finish your interview`), to: model.CategoryOther},

	// Offer verdicts.
	{name: "offer_hiring_pipes", on: offer, match: subject(`hiring\s*\|{1,2}`), to: model.CategoryRecruiter},
	{name: "offer_program_marketing", on: offer, match: anyOf(
		subject(`internship program`, `virtual internship`, `challenge\s+\d{4}`, `hackathon`, `training`),
		sender(`dare2compete`, `internshala`),
	), to: model.CategoryOther},

	{name: "wellfound_more_matches", on: personal, match: all(
		sender(`wellfound`),
		subject(`more matches`),
	), to: model.CategoryOther},
}

// storedRules only run when re-checking messages already in the store.
// They target verdicts recorded before the live rules above existed.
var storedRules = []rule{
	{name: "thank_you_for_applying", on: interview, match: subject(`thank you for applying`), to: model.CategoryApplied},
	{name: "not_an_interview", on: interview, match: subject(
		`hackathon`, `hack\s?\d{4}`, `challenge\s+\d{4}`, `course`,
		`internship program`, `internship opportunity`, `fellowship.*program`,
		`training`, `strategy call`, `nesternship`,
	), to: model.CategoryOther},
	{name: "offer_challenge", on: offer, match: subject(`challenge`, `nesternship`), to: model.CategoryOther},
}

func run(table []rule, cat model.Category, subj, from string, fired []string) (model.Category, []string) {
	for _, r := range table {
		if !r.applies(cat) || !r.match(subj, from) {
			continue
		}
		if r.to != cat {
			fired = append(fired, r.name)
		}
		cat = r.to
	}
	return cat, fired
}

// Correct applies the rule table to a fresh classification of msg. The
// returned Correction is nil when no rule changed anything.
func Correct(c model.Classification, msg model.Message) (model.Classification, *Correction) {
	from := strings.ToLower(msg.Sender)
	before := c.Category

	cat, fired := run(rules, c.Category, msg.Subject, from, nil)
	c.Category = cat

	if c.WorkMode == model.WorkUnknown || c.WorkMode == "" {
		if mode := InferWorkMode(c.Role + " " + msg.Subject); mode != model.WorkUnknown {
			c.WorkMode = mode
			fired = append(fired, "work_mode_"+strings.ToLower(string(mode)))
		}
	}

	if len(fired) == 0 {
		return c, nil
	}
	return c, &Correction{From: before, To: c.Category, Rules: fired}
}

// CorrectStored re-checks a stored category against the subject-line rules
// plus the stored-only rules. It reports whether the category changed.
func CorrectStored(cat model.Category, subj, sender string) (model.Category, bool) {
	from := strings.ToLower(sender)
	next, _ := run(rules, cat, subj, from, nil)
	next, _ = run(storedRules, next, subj, from, nil)
	return next, next != cat
}

// InferWorkMode looks for work-arrangement keywords in free text.
func InferWorkMode(text string) model.WorkMode {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "remote"), strings.Contains(t, "work from home"), strings.Contains(t, "wfh"):
		return model.WorkRemote
	case strings.Contains(t, "hybrid"):
		return model.WorkHybrid
	case strings.Contains(t, "onsite"), strings.Contains(t, "on-site"):
		return model.WorkOnsite
	}
	return model.WorkUnknown
}
