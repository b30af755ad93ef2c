package goal

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Evaluation is the outcome of checking a goal's success criteria
// against a run result.
type Evaluation struct {
	Success         bool            `json:"success"`
	CriteriaResults map[string]bool `json:"criteria_results"`
}

// EvaluateGoal checks every success criterion against the stringified
// result. The heuristic is deliberately coarse and lexical: a criterion
// is met when at least half of its significant tokens (five or more
// characters) appear case-insensitively in the result. Overall success
// requires all criteria met.
func (t *Tracker) EvaluateGoal(goalID string, result any) (Evaluation, error) {
	t.mu.Lock()
	g, ok := t.goals[goalID]
	if !ok {
		t.mu.Unlock()
		return Evaluation{}, fmt.Errorf("goal %s not found", goalID)
	}
	criteria := append([]string(nil), g.SuccessCriteria...)
	t.mu.Unlock()

	haystack := strings.ToLower(stringify(result))
	eval := Evaluation{Success: true, CriteriaResults: make(map[string]bool, len(criteria))}

	for _, criterion := range criteria {
		met := criterionMet(criterion, haystack)
		eval.CriteriaResults[criterion] = met
		if !met {
			eval.Success = false
		}
	}
	return eval, nil
}

// criterionMet tokenizes the criterion into its significant words and
// checks how many occur in the haystack.
func criterionMet(criterion, haystack string) bool {
	tokens := significantTokens(criterion)
	if len(tokens) == 0 {
		return true
	}
	matched := 0
	for _, tok := range tokens {
		if strings.Contains(haystack, tok) {
			matched++
		}
	}
	return matched*2 >= len(tokens)
}

// significantTokens lowercases and splits on non-letter/digit runes,
// keeping tokens of five or more characters so filler words like
// "must" or "with" do not skew the match ratio.
func significantTokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for _, f := range fields {
		if len(f) >= 5 {
			out = append(out, f)
		}
	}
	return out
}

// stringify renders a result for lexical matching. JSON is preferred;
// unmarshalable values fall back to fmt.
func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if raw, err := json.Marshal(v); err == nil {
		return string(raw)
	}
	return fmt.Sprintf("%v", v)
}
