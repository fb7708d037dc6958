// Package resolve maps a classified (company, role) pair onto an existing
// job record.
package resolve

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jobsync/internal/model"
)

// Finder is the slice of the store the resolver reads from.
type Finder interface {
	// FindJob returns the job whose company and role equal the arguments
	// case-insensitively, or nil.
	FindJob(ctx context.Context, company, role string) (*model.Job, error)
	// SearchJobsByCompany returns jobs whose lower-cased company contains
	// fragment.
	SearchJobsByCompany(ctx context.Context, fragment string) ([]model.Job, error)
}

// Resolver finds the job a classification belongs to.
type Resolver struct {
	finder Finder
}

// NewResolver creates a Resolver backed by f.
func NewResolver(f Finder) *Resolver {
	return &Resolver{finder: f}
}

// Resolve returns the existing job for company and role, or nil when the
// caller should create one. Aggregator placeholders only ever match exactly.
func (r *Resolver) Resolve(ctx context.Context, company, role string) (*model.Job, error) {
	company = strings.TrimSpace(company)
	role = strings.TrimSpace(role)
	if company == "" || role == "" || IsPlaceholder(company, role) {
		return nil, nil
	}

	job, err := r.finder.FindJob(ctx, company, role)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: exact match")
	}
	if job != nil {
		return job, nil
	}
	if IsAggregator(company) {
		return nil, nil
	}

	normCompany := NormalizeCompany(company)
	if normCompany == "" {
		return nil, nil
	}
	normRole := NormalizeRole(role)

	candidates, err := r.finder.SearchJobsByCompany(ctx, normCompany)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: search candidates")
	}
	for i := range candidates {
		c := &candidates[i]
		if IsSimilar(NormalizeCompany(c.Company), normCompany) && IsSimilar(NormalizeRole(c.Role), normRole) {
			zap.L().Debug("resolve: fuzzy matched job",
				zap.String("input", company+" / "+role),
				zap.String("matched", c.Company+" / "+c.Role),
				zap.String("job_id", c.ID),
			)
			return c, nil
		}
	}
	return nil, nil
}

// IsPlaceholder reports whether company or role is the stand-in recorded
// when the classifier could not name one. Such jobs are never matched or
// merged with each other.
func IsPlaceholder(company, role string) bool {
	switch strings.ToLower(strings.TrimSpace(company)) {
	case "unknown", strings.ToLower(model.UnknownCompany):
		return true
	}
	return strings.EqualFold(strings.TrimSpace(role), model.UnknownRole)
}
