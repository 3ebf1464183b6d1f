package validation

import "github.com/gymops/automation/pkg/models"

// FacebookLeadSchema is the normalized shape produced by the Facebook Lead Ads adapter.
var FacebookLeadSchema = map[string]any{
	"type":     "object",
	"required": []any{"leadgen_id", "page_id"},
	"properties": map[string]any{
		"leadgen_id":   map[string]any{"type": "string", "minLength": 1},
		"page_id":      map[string]any{"type": "string", "minLength": 1},
		"form_id":      map[string]any{"type": "string"},
		"ad_id":        map[string]any{"type": "string"},
		"created_time": map[string]any{"type": "number"},
		"email":        map[string]any{"type": "string"},
	},
}

// NewDefault returns a validator with the built-in trigger schemas registered.
func NewDefault(opts ...Option) (*Validator, error) {
	v := New(opts...)

	err := v.RegisterSchema(models.TriggerTypeFacebookLead, FacebookLeadSchema)
	if err != nil {
		return nil, err
	}

	return v, nil
}
