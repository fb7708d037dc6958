package classify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jobsync/internal/model"
)

// ErrInvalidCategory is returned when the category is outside the taxonomy
// and cannot be remapped.
var ErrInvalidCategory = eris.New("classify: invalid category")

// kindAsCategory remaps job-kind values the model sometimes puts in the
// category slot.
var kindAsCategory = map[string]model.Category{
	"INTERNSHIP": model.CategoryApplied,
	"FULL_TIME":  model.CategoryApplied,
	"CONTRACT":   model.CategoryApplied,
	"UNKNOWN":    model.CategoryOther,
}

var placeholderRole = regexp.MustCompile(`(?i)^(unknown role|unknown|n/a|not applicable|not specified|-)$`)

// Decode parses a raw model response into a validated Classification.
func Decode(text string) (*model.Classification, error) {
	var raw map[string]any
	if err := ParseLenient(text, &raw); err != nil {
		return nil, err
	}
	return Normalize(raw)
}

// Normalize validates decoded fields and fills derived ones.
func Normalize(raw map[string]any) (*model.Classification, error) {
	catText := strings.ToUpper(strings.TrimSpace(str(raw["category"])))
	cat, ok := model.ParseCategory(catText)
	if !ok {
		remapped, known := kindAsCategory[catText]
		if !known {
			return nil, eris.Wrapf(ErrInvalidCategory, "%q", catText)
		}
		zap.L().Warn("classify: remapped invalid category",
			zap.String("from", catText),
			zap.String("to", string(remapped)),
		)
		cat = remapped
	}

	role := strings.TrimSpace(str(raw["role"]))
	if placeholderRole.MatchString(role) {
		role = ""
	}

	kind := model.ParseJobKind(str(raw["job_type"]))
	if kind == model.KindUnknown && role != "" {
		kind = InferKind(role)
	}

	return &model.Classification{
		Category:       cat,
		Company:        strings.TrimSpace(str(raw["company"])),
		Role:           role,
		InterviewDate:  strings.TrimSpace(str(raw["interview_date"])),
		Kind:           kind,
		WorkMode:       model.ParseWorkMode(str(raw["work_mode"])),
		SourcePlatform: strings.TrimSpace(str(raw["source_platform"])),
		Confidence:     clamp01(num(raw["confidence"])),
	}, nil
}

// InferKind guesses the job kind from a role title. A real role with no
// other signal is assumed to be full-time.
func InferKind(role string) model.JobKind {
	r := strings.ToLower(role)
	switch {
	case strings.Contains(r, "intern"), strings.Contains(r, "trainee"),
		strings.Contains(r, "apprentice"), strings.Contains(r, "student"):
		return model.KindInternship
	case strings.Contains(r, "contract"), strings.Contains(r, "freelance"):
		return model.KindContract
	default:
		return model.KindFullTime
	}
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// num accepts only JSON numbers; anything else counts as no confidence.
func num(v any) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return 0
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
