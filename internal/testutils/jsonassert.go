package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// Presence matches any actual value, for fields like timestamps and IDs.
const Presence = "<<PRESENCE>>"

// JSONOptions controls JSON comparison.
type JSONOptions struct {
	// IgnoreExtraKeys drops object keys the expected document does not mention.
	IgnoreExtraKeys bool `default:"true"`
}

// JSONAsserter compares JSON documents structurally.
type JSONAsserter struct {
	t    TestingT
	opts JSONOptions
}

func NewJSONAsserter(t TestingT) *JSONAsserter {
	ja := &JSONAsserter{t: t}
	defaults.SetDefaults(&ja.opts)
	return ja
}

// Strict compares every key.
func (ja *JSONAsserter) Strict() *JSONAsserter {
	ja.opts.IgnoreExtraKeys = false
	return ja
}

func (ja *JSONAsserter) Assert(actual, expected string) {
	ja.t.Helper()
	if diff := ja.Diff(actual, expected); diff != "" {
		ja.t.Errorf("JSON MUST match:\n%s", diff)
	}
}

// Diff returns an empty string when the documents match.
func (ja *JSONAsserter) Diff(actual, expected string) string {
	var exp, act any
	if err := json.Unmarshal([]byte(expected), &exp); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actual), &act); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v\n%s", err, actual)
	}

	act = ja.project(exp, act)

	// gojsondiff only compares objects at the root.
	exp = map[string]any{"root": exp}
	act = map[string]any{"root": act}
	expBytes, _ := json.Marshal(exp)
	actBytes, _ := json.Marshal(act)

	diff, err := gojsondiff.New().Compare(expBytes, actBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}
	out, _ := formatter.NewAsciiFormatter(exp, formatter.AsciiFormatterConfig{ShowArrayIndex: true}).Format(diff)
	return out
}

// project rewrites act into the shape exp asks for: placeholders take the
// actual value and, when enabled, unmentioned keys are dropped.
func (ja *JSONAsserter) project(exp, act any) any {
	if s, ok := exp.(string); ok && s == Presence && act != nil {
		return Presence
	}
	switch e := exp.(type) {
	case map[string]any:
		a, ok := act.(map[string]any)
		if !ok {
			return act
		}
		out := make(map[string]any, len(a))
		for k, v := range a {
			ev, mentioned := e[k]
			switch {
			case mentioned:
				out[k] = ja.project(ev, v)
			case !ja.opts.IgnoreExtraKeys:
				out[k] = v
			}
		}
		return out
	case []any:
		a, ok := act.([]any)
		if !ok {
			return act
		}
		out := make([]any, len(a))
		for i, v := range a {
			if i < len(e) {
				out[i] = ja.project(e[i], v)
			} else {
				out[i] = v
			}
		}
		return out
	default:
		return act
	}
}

// MustJSON marshals v or panics.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
