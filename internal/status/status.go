// Package status holds the job status priority order and the rules for
// folding a new classification into an existing job.
package status

import (
	"strings"
	"time"

	"github.com/sells-group/jobsync/internal/model"
)

var priority = map[model.Category]int{
	model.CategoryRecruiter: 1,
	model.CategoryApplied:   2,
	model.CategoryViewed:    3,
	model.CategoryRejected:  4,
	model.CategoryInterview: 5,
	model.CategoryOffer:     6,
}

// Priority ranks c. OTHER, UNCERTAIN and GHOSTED rank 0.
func Priority(c model.Category) int {
	return priority[c]
}

// ShouldUpdate reports whether next strictly outranks current.
func ShouldUpdate(current, next model.Category) bool {
	return Priority(next) > Priority(current)
}

// Highest returns the top-ranked category in cats, or OTHER when none ranks
// above zero.
func Highest(cats []model.Category) model.Category {
	best := model.CategoryOther
	for _, c := range cats {
		if Priority(c) > Priority(best) {
			best = c
		}
	}
	return best
}

// MessageCategory is the category a message is stored under: its own
// category, or UNCERTAIN below threshold.
func MessageCategory(c model.Classification, threshold float64) model.Category {
	if c.Confidence < threshold {
		return model.CategoryUncertain
	}
	return c.Category
}

var interviewLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseInterviewDate accepts the date shapes the classifier emits.
func ParseInterviewDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range interviewLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// NewJob builds the record created for the first message of an application.
// Categories that cannot be a job status start the job at OTHER.
func NewJob(c model.Classification, at time.Time) model.Job {
	j := model.Job{
		Company:        strings.TrimSpace(c.Company),
		Role:           strings.TrimSpace(c.Role),
		Kind:           c.Kind,
		WorkMode:       c.WorkMode,
		SourcePlatform: c.SourcePlatform,
		Status:         c.Category,
		FirstSeenAt:    at,
		LastUpdateAt:   at,
	}
	if j.Company == "" || strings.EqualFold(j.Company, "unknown") {
		j.Company = model.UnknownCompany
	}
	if j.Role == "" {
		j.Role = model.UnknownRole
	}
	if j.Kind == "" {
		j.Kind = model.KindUnknown
	}
	if j.WorkMode == "" {
		j.WorkMode = model.WorkUnknown
	}
	if !j.Status.IsJobStatus() {
		j.Status = model.CategoryOther
	}
	if t, ok := ParseInterviewDate(c.InterviewDate); ok {
		j.InterviewAt = &t
	}
	return j
}

// Evolve folds c, observed at at, into job. Status only moves up. Kind,
// work mode and source platform are filled while still unknown and never
// overwritten. It reports whether the status changed.
func Evolve(job *model.Job, c model.Classification, at time.Time) bool {
	raised := ShouldUpdate(job.Status, c.Category)
	if raised {
		job.Status = c.Category
	}

	if at.After(job.LastUpdateAt) {
		job.LastUpdateAt = at
	}
	if !at.IsZero() && (job.FirstSeenAt.IsZero() || at.Before(job.FirstSeenAt)) {
		job.FirstSeenAt = at
	}

	if t, ok := ParseInterviewDate(c.InterviewDate); ok {
		job.InterviewAt = &t
	}
	if (job.WorkMode == model.WorkUnknown || job.WorkMode == "") && c.WorkMode != model.WorkUnknown && c.WorkMode != "" {
		job.WorkMode = c.WorkMode
	}
	if (job.Kind == model.KindUnknown || job.Kind == "") && c.Kind != model.KindUnknown && c.Kind != "" {
		job.Kind = c.Kind
	}
	if job.SourcePlatform == "" && c.SourcePlatform != "" {
		job.SourcePlatform = c.SourcePlatform
	}
	return raised
}
