package scanning

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	errNoJSONObject = errors.New("no JSON object found in reply")

	// fenceLine matches a markdown fence line such as ``` or ```json
	fenceLine = regexp.MustCompile("^```[A-Za-z0-9_+.-]*$")
)

// replySchema is the strict reply contract. A reply that fails it can
// still yield usable fields, so it is only used for diagnostics.
var replySchema = jsonschema.MustCompileString("receipt-reply.json", `{
	"type": "object",
	"additionalProperties": false,
	"required": ["vendor", "date", "total"],
	"properties": {
		"vendor": {"type": "string"},
		"date":   {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
		"total":  {"type": "string", "pattern": "^\\d+\\.\\d{2}$"}
	}
}`)

// stripCodeFences removes a leading and a trailing fence line
func stripCodeFences(reply string) string {
	lines := strings.Split(strings.TrimSpace(reply), "\n")
	if len(lines) > 0 && fenceLine.MatchString(strings.TrimSpace(lines[0])) {
		lines = lines[1:]
	}
	if len(lines) > 0 && fenceLine.MatchString(strings.TrimSpace(lines[len(lines)-1])) {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// jsonObject returns the outermost {...} span of a fence-stripped reply
func jsonObject(reply string) (string, error) {
	text := stripCodeFences(reply)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", errNoJSONObject
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return "", errNoJSONObject
	}
	return text[startIdx : endIdx+1], nil
}

// parseReply turns a model reply into candidate fields. A non-nil error
// means the reply could not be read at all; missing or oddly typed keys
// just leave the matching field empty.
func parseReply(reply string) (Candidate, error) {
	body, err := jsonObject(reply)
	if err != nil {
		return Candidate{}, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Candidate{}, fmt.Errorf("unmarshaling json: %w", err)
	}

	return Candidate{
		Vendor: fieldText(raw["vendor"]),
		Date:   fieldText(raw["date"]),
		Total:  fieldText(raw["total"]),
	}, nil
}

// fieldText reads a string value, or a number's literal text so that 45.0
// reaches the normalizer as "45.0". Anything else is treated as absent.
func fieldText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// checkReply validates a parsed reply against the strict contract
func checkReply(reply string) error {
	body, err := jsonObject(reply)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return fmt.Errorf("unmarshaling json: %w", err)
	}
	return replySchema.Validate(v)
}
