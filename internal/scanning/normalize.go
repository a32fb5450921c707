package scanning

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

var (
	isoDate    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	plainTotal = regexp.MustCompile(`^\d+\.\d{2}$`)
)

// rule recovers a field value from raw OCR text. extract receives the
// submatches of the first pattern match and may still reject it.
type rule struct {
	name    string
	pattern *regexp.Regexp
	extract func(match []string) (string, bool)
}

func (r rule) apply(text string) (string, bool) {
	match := r.pattern.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	return r.extract(match)
}

// dateRules are tried in order when the candidate date is not ISO 8601.
// Only the shape is checked, not whether the day exists.
var dateRules = []rule{
	{
		name:    "slash-mdy",
		pattern: regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})`),
		extract: func(m []string) (string, bool) {
			month, _ := strconv.Atoi(m[1])
			day, _ := strconv.Atoi(m[2])
			return fmt.Sprintf("%s-%02d-%02d", m[3], month, day), true
		},
	},
}

// totalRules are tried in order when the candidate total is not a plain
// two-decimal amount. Thousands separators are dropped from the capture.
var totalRules = []rule{
	{
		name:    "labelled-total",
		pattern: regexp.MustCompile(`(?i)(?:EST\.\s*TOTAL\s+AMOUNT\s+US\$|\bTotal\s*:?)\s*\$?\s*(\d[\d,]*\.\d{2})(?:\D|$)`),
		extract: func(m []string) (string, bool) {
			total := strings.ReplaceAll(m[1], ",", "")
			return total, plainTotal.MatchString(total)
		},
	},
}

// Normalizer validates candidate fields and repairs date and total from the
// raw OCR text when the candidate is unusable
type Normalizer struct {
	dateRules  []rule
	totalRules []rule
}

// NewNormalizer creates a Normalizer with the default rules
func NewNormalizer() *Normalizer {
	return &Normalizer{
		dateRules:  dateRules,
		totalRules: totalRules,
	}
}

// Normalize never fails. Any field that cannot be validated or recovered
// is returned empty.
func (n *Normalizer) Normalize(candidate Candidate, rawText string) Fields {
	return Fields{
		Vendor: normalizeVendor(candidate.Vendor),
		Date:   pick("date", candidate.Date, isoDate, n.dateRules, rawText),
		Total:  pick("total", candidate.Total, plainTotal, n.totalRules, rawText),
	}
}

// Vendor names are too free-form to recover from raw text
func normalizeVendor(vendor string) string {
	if strings.TrimSpace(vendor) == "" {
		return ""
	}
	return vendor
}

func pick(field, value string, valid *regexp.Regexp, rules []rule, rawText string) string {
	if valid.MatchString(value) {
		return value
	}
	for _, r := range rules {
		if v, ok := r.apply(rawText); ok {
			slog.Debug("Recovered field from OCR text", "field", field, "rule", r.name, "candidate", value, "value", v)
			return v
		}
	}
	return ""
}
