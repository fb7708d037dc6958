package model

import (
	"strings"
	"time"
)

// Category is a classification outcome for a message, and doubles as the
// status of a job application.
type Category string

const (
	CategoryApplied   Category = "APPLIED_CONFIRMATION"
	CategoryRejected  Category = "REJECTED"
	CategoryInterview Category = "INTERVIEW"
	CategoryOffer     Category = "OFFER"
	CategoryRecruiter Category = "RECRUITER_OUTREACH"
	CategoryViewed    Category = "APPLICATION_VIEWED"
	CategoryOther     Category = "OTHER"

	// CategoryUncertain tags a stored message whose confidence was too low
	// to trust its raw category.
	CategoryUncertain Category = "UNCERTAIN"
	// CategoryGhosted is a terminal job status applied after inactivity.
	CategoryGhosted Category = "GHOSTED"
)

// ClassifierCategories lists the seven categories the classifier may return.
var ClassifierCategories = []Category{
	CategoryApplied,
	CategoryRejected,
	CategoryInterview,
	CategoryOffer,
	CategoryRecruiter,
	CategoryViewed,
	CategoryOther,
}

// ParseCategory normalizes s and reports whether it is one of the seven
// classifier categories.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range ClassifierCategories {
		if c == known {
			return c, true
		}
	}
	return c, false
}

// IsMessageCategory reports whether c may be stored on a message.
func (c Category) IsMessageCategory() bool {
	if c == CategoryUncertain {
		return true
	}
	_, ok := ParseCategory(string(c))
	return ok
}

// IsJobStatus reports whether c may be stored as a job's current status.
func (c Category) IsJobStatus() bool {
	if c == CategoryGhosted {
		return true
	}
	_, ok := ParseCategory(string(c))
	return ok
}

// JobKind is the employment type of an application.
type JobKind string

const (
	KindInternship JobKind = "INTERNSHIP"
	KindFullTime   JobKind = "FULL_TIME"
	KindContract   JobKind = "CONTRACT"
	KindUnknown    JobKind = "UNKNOWN"
)

// ParseJobKind returns KindUnknown for anything unrecognized.
func ParseJobKind(s string) JobKind {
	switch k := JobKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindInternship, KindFullTime, KindContract:
		return k
	default:
		return KindUnknown
	}
}

// WorkMode is where the work happens.
type WorkMode string

const (
	WorkRemote  WorkMode = "REMOTE"
	WorkOnsite  WorkMode = "ONSITE"
	WorkHybrid  WorkMode = "HYBRID"
	WorkUnknown WorkMode = "UNKNOWN"
)

// ParseWorkMode returns WorkUnknown for anything unrecognized.
func ParseWorkMode(s string) WorkMode {
	switch m := WorkMode(strings.ToUpper(strings.TrimSpace(s))); m {
	case WorkRemote, WorkOnsite, WorkHybrid:
		return m
	default:
		return WorkUnknown
	}
}

// Placeholders used when a job is created without a company or role.
const (
	UnknownCompany = "Unknown Company"
	UnknownRole    = "Unknown Role"
)

// Job is a deduplicated job application.
type Job struct {
	ID             string     `json:"id" csv:"id"`
	Company        string     `json:"company" csv:"company"`
	Role           string     `json:"role" csv:"role"`
	Kind           JobKind    `json:"job_type" csv:"job_type"`
	WorkMode       WorkMode   `json:"work_mode" csv:"work_mode"`
	SourcePlatform string     `json:"source_platform,omitempty" csv:"source_platform"`
	Status         Category   `json:"status" csv:"status"`
	FirstSeenAt    time.Time  `json:"first_seen_at" csv:"first_seen_at"`
	LastUpdateAt   time.Time  `json:"last_update_at" csv:"last_update_at"`
	InterviewAt    *time.Time `json:"interview_at,omitempty" csv:"interview_at,omitempty"`
	Notes          string     `json:"notes,omitempty" csv:"notes"`
	CreatedAt      time.Time  `json:"created_at" csv:"-"`
}

// JobFilter narrows a job listing.
type JobFilter struct {
	Status Category `json:"status,omitempty"`
	Limit  int      `json:"limit,omitempty"`
	Offset int      `json:"offset,omitempty"`
}
