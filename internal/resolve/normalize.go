package resolve

import (
	"regexp"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	companySuffix = regexp.MustCompile(`(?i)\b(pvt\.?\s*ltd\.?|private\s*limited|inc\.?|llc|ltd\.?|co\.?|corp\.?|corporation|limited|technologies|tech|solutions|software|services|consulting|group)\b`)
	parenthetical = regexp.MustCompile(`\(.*?\)`)
	punctuation   = regexp.MustCompile(`[.,\-_]+`)
	whitespace    = regexp.MustCompile(`\s+`)
)

type synonym struct {
	re   *regexp.Regexp
	repl string
}

// Applied in order.
var roleSynonyms = []synonym{
	{regexp.MustCompile(`artificial intelligence`), "ai"},
	{regexp.MustCompile(`machine learning`), "ml"},
	{regexp.MustCompile(`\binternship\b`), "intern"},
	{regexp.MustCompile(`\bsoftware (engineer|developer)\b`), "swe"},
	{regexp.MustCompile(`\bdata scientist\b`), "ds"},
	{regexp.MustCompile(`\bdata analyst\b`), "da"},
	{regexp.MustCompile(`\bfull[\s-]?stack\b`), "fullstack"},
	{regexp.MustCompile(`\bfront[\s-]?end\b`), "frontend"},
	{regexp.MustCompile(`\bback[\s-]?end\b`), "backend"},
}

var aggregators = []string{
	"via indeed",
	"via linkedin",
	"via internshala",
	"via glassdoor",
	"via naukri",
	"via wellfound",
	"manually applied",
}

// fold strips diacritics so "Société" and "Societe" normalize alike.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeCompany reduces a company name to a comparison key: lower-cased,
// diacritics folded, legal and generic suffixes removed, parentheticals and
// punctuation dropped.
func NormalizeCompany(name string) string {
	s := strings.ToLower(fold(name))
	s = companySuffix.ReplaceAllString(s, "")
	s = parenthetical.ReplaceAllString(s, "")
	s = punctuation.ReplaceAllString(s, "")
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// NormalizeRole reduces a role title to a comparison key, mapping common
// long forms onto short codes ("Software Engineer" and "SWE" compare equal).
func NormalizeRole(role string) string {
	s := strings.ToLower(fold(role))
	s = parenthetical.ReplaceAllString(s, "")
	for _, syn := range roleSynonyms {
		s = syn.re.ReplaceAllString(s, syn.repl)
	}
	s = punctuation.ReplaceAllString(s, "")
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// IsSimilar reports whether two normalized keys name the same thing: equal,
// or both non-empty and one containing the other.
func IsSimilar(a, b string) bool {
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// IsAggregator reports whether company is a portal placeholder rather than
// a real employer.
func IsAggregator(company string) bool {
	return slices.Contains(aggregators, strings.ToLower(strings.TrimSpace(company)))
}

// MergeKey groups jobs that the duplicate merge treats as one.
func MergeKey(company, role string) string {
	return NormalizeCompany(company) + "::" + NormalizeRole(role)
}
