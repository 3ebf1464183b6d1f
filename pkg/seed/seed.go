// Package seed loads webhook and workflow definitions from a file into persistence.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence"
	"github.com/gymops/automation/pkg/registry"
	"gopkg.in/yaml.v3"
)

var ErrInvalidDefinitions = errors.New("invalid definitions")

// Definitions is the file format: JSON, or YAML with the same keys.
type Definitions struct {
	Webhooks  []*models.Webhook  `json:"webhooks"`
	Workflows []*models.Workflow `json:"workflows"`
}

// Load reads a .json, .yaml or .yml definitions file.
func Load(path string) (*Definitions, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAML(data)
	default:
		return parseJSON(data)
	}
}

func parseJSON(data []byte) (*Definitions, error) {
	var defs Definitions
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinitions, err)
	}

	return &defs, nil
}

// parseYAML converts the document to JSON so the models keep a single set of tags.
func parseYAML(data []byte) (*Definitions, error) {
	var document any
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinitions, err)
	}

	converted, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinitions, err)
	}

	return parseJSON(converted)
}

// Summary counts what Apply saved.
type Summary struct {
	Webhooks  int
	Workflows int
}

type Seeder struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	validate    *validator.Validate
	logger      *slog.Logger
}

func New(p persistence.Persistence, reg *registry.Registry, logger *slog.Logger) *Seeder {
	return &Seeder{
		persistence: p,
		registry:    reg,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "seed"),
	}
}

// Apply validates every definition first and saves nothing if one is invalid.
// Saving an existing id replaces the definition.
func (s *Seeder) Apply(ctx context.Context, defs *Definitions) (Summary, error) {
	if err := s.Check(defs); err != nil {
		return Summary{}, err
	}

	var summary Summary

	for _, webhook := range defs.Webhooks {
		if err := s.persistence.WebhookRepository().Save(ctx, webhook); err != nil {
			return summary, fmt.Errorf("save webhook %s: %w", webhook.ID, err)
		}

		summary.Webhooks++
	}

	for _, wf := range defs.Workflows {
		if err := s.persistence.WorkflowRepository().Save(ctx, wf); err != nil {
			return summary, fmt.Errorf("save workflow %s: %w", wf.ID, err)
		}

		summary.Workflows++
	}

	s.logger.InfoContext(ctx, "Definitions seeded", "webhooks", summary.Webhooks, "workflows", summary.Workflows)

	return summary, nil
}

// Check reports every invalid definition.
func (s *Seeder) Check(defs *Definitions) error {
	var errs []error

	webhookIDs := make(map[string]struct{}, len(defs.Webhooks))

	for index, webhook := range defs.Webhooks {
		if webhook == nil {
			errs = append(errs, fmt.Errorf("webhooks[%d]: empty definition", index))

			continue
		}

		if webhook.Provider == "" {
			webhook.Provider = models.WebhookProviderGeneric
		}

		if err := s.validate.Struct(webhook); err != nil {
			errs = append(errs, fmt.Errorf("webhook %q: %w", webhook.ID, err))
		}

		if _, dup := webhookIDs[webhook.ID]; dup {
			errs = append(errs, fmt.Errorf("webhook %q: duplicate id", webhook.ID))
		}

		webhookIDs[webhook.ID] = struct{}{}
	}

	for index, wf := range defs.Workflows {
		if wf == nil {
			errs = append(errs, fmt.Errorf("workflows[%d]: empty definition", index))

			continue
		}

		if err := s.registry.ValidateWorkflow(wf); err != nil {
			errs = append(errs, fmt.Errorf("workflow %q: %w", wf.ID, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidDefinitions, errors.Join(errs...))
	}

	return nil
}
