// Package validation schema-checks and sanitizes untrusted webhook payloads.
package validation

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/microcosm-cc/bluemonday"
	"github.com/xeipuuv/gojsonschema"
)

const defaultMaxDepth = 32

// DefaultDenylist holds keys dropped from every payload.
var DefaultDenylist = []string{"__proto__", "constructor", "prototype"}

var (
	scriptURL = regexp.MustCompile(`(?i)(java|vb)script\s*:`)
	// executableMarkup finds tags that run code and attributes that install handlers.
	executableMarkup = regexp.MustCompile(
		`(?i)<\s*/?\s*(script|iframe|frame|object|embed|style|svg|math|form|link|meta|base)\b|<[^>]*\bon[a-z]+\s*=|<[^>]*(java|vb)script\s*:`,
	)
)

// Shape describes the expected payload: the trigger type selects a registered schema,
// Schema is an additional per-webhook JSON schema.
type Shape struct {
	TriggerType string
	Schema      map[string]any
}

// Result of a validation. Sanitized is only set when Valid is true.
type Result struct {
	Valid     bool
	Sanitized map[string]any
	Errors    []string
	Stripped  []string
}

// Validator is safe for concurrent use once configured.
type Validator struct {
	policy       *bluemonday.Policy
	denylist     map[string]struct{}
	schemas      map[string]*gojsonschema.Schema
	rejectUnsafe bool
	maxDepth     int
}

type Option func(*Validator)

// WithDenylist adds keys that are removed wherever they appear.
func WithDenylist(keys ...string) Option {
	return func(v *Validator) {
		for _, key := range keys {
			v.denylist[key] = struct{}{}
		}
	}
}

// WithRejectUnsafe makes executable content a validation error instead of being stripped.
func WithRejectUnsafe() Option {
	return func(v *Validator) {
		v.rejectUnsafe = true
	}
}

func WithMaxDepth(depth int) Option {
	return func(v *Validator) {
		v.maxDepth = depth
	}
}

func New(opts ...Option) *Validator {
	v := &Validator{
		policy:   bluemonday.UGCPolicy(),
		denylist: make(map[string]struct{}),
		schemas:  make(map[string]*gojsonschema.Schema),
		maxDepth: defaultMaxDepth,
	}

	for _, key := range DefaultDenylist {
		v.denylist[key] = struct{}{}
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// RegisterSchema compiles and stores the schema for a trigger type.
// It is not safe to call concurrently with Validate.
func (v *Validator) RegisterSchema(triggerType string, schema map[string]any) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return fmt.Errorf("invalid schema for trigger type %s: %w", triggerType, err)
	}

	v.schemas[triggerType] = compiled

	return nil
}

// Validate checks payload against the shape and returns a sanitized copy.
// Unknown fields pass through; only denylisted keys are removed.
func (v *Validator) Validate(payload any, tenantID string, shape Shape) Result {
	if tenantID == "" {
		return invalid("tenant id is required")
	}

	object, ok := payload.(map[string]any)
	if !ok {
		return invalid("payload must be a JSON object")
	}

	state := &sanitizeState{}

	cleaned, err := v.sanitizeValue(object, "", 0, state)
	if err != nil {
		return invalid(err.Error())
	}

	sanitized, _ := cleaned.(map[string]any)

	if v.rejectUnsafe && len(state.stripped) > 0 {
		errs := make([]string, 0, len(state.stripped))
		for _, path := range state.stripped {
			errs = append(errs, fmt.Sprintf("%s: contains executable content", path))
		}

		return Result{Valid: false, Errors: errs, Stripped: state.stripped}
	}

	var errs []string

	if schema, ok := v.schemas[shape.TriggerType]; ok {
		errs = append(errs, checkSchema(schema, sanitized)...)
	}

	if len(shape.Schema) > 0 {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(shape.Schema))
		if err != nil {
			errs = append(errs, "webhook schema is invalid: "+err.Error())
		} else {
			errs = append(errs, checkSchema(schema, sanitized)...)
		}
	}

	if len(errs) > 0 {
		return Result{Valid: false, Errors: errs, Stripped: state.stripped}
	}

	return Result{Valid: true, Sanitized: sanitized, Stripped: state.stripped}
}

// SanitizeString strips markup that could execute when rendered. Strings without
// executable markup, such as "Ana <ana@example.com>" or "3 < 5", are returned unchanged.
func (v *Validator) SanitizeString(s string) string {
	cleaned := s

	if executableMarkup.MatchString(cleaned) {
		cleaned = v.policy.Sanitize(cleaned)
	}

	return scriptURL.ReplaceAllString(cleaned, "")
}

type sanitizeState struct {
	stripped []string
}

func (v *Validator) sanitizeValue(value any, path string, depth int, state *sanitizeState) (any, error) {
	if depth > v.maxDepth {
		return nil, fmt.Errorf("payload nesting exceeds %d levels", v.maxDepth)
	}

	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))

		for _, key := range sortedKeys(typed) {
			if _, denied := v.denylist[key]; denied {
				state.stripped = append(state.stripped, joinPath(path, key))

				continue
			}

			cleaned, err := v.sanitizeValue(typed[key], joinPath(path, key), depth+1, state)
			if err != nil {
				return nil, err
			}

			out[key] = cleaned
		}

		return out, nil
	case []any:
		out := make([]any, len(typed))

		for i, item := range typed {
			cleaned, err := v.sanitizeValue(item, fmt.Sprintf("%s[%d]", path, i), depth+1, state)
			if err != nil {
				return nil, err
			}

			out[i] = cleaned
		}

		return out, nil
	case string:
		cleaned := v.SanitizeString(typed)
		if cleaned != typed {
			state.stripped = append(state.stripped, path)
		}

		return cleaned, nil
	default:
		return value, nil
	}
}

func checkSchema(schema *gojsonschema.Schema, document map[string]any) []string {
	result, err := schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return []string{"schema validation failed: " + err.Error()}
	}

	if result.Valid() {
		return nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}

	return errs
}

func invalid(msg string) Result {
	return Result{Valid: false, Errors: []string{msg}}
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}

	return parent + "." + key
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}
