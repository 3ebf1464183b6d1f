package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence"
	"github.com/gymops/automation/pkg/template"
)

// Matcher selects the workflows an inbound event starts.
type Matcher struct {
	workflows persistence.WorkflowRepository
	logger    *slog.Logger
}

func NewMatcher(workflows persistence.WorkflowRepository, logger *slog.Logger) *Matcher {
	return &Matcher{
		workflows: workflows,
		logger:    logger.With("module", "workflow_matcher"),
	}
}

// FindMatching returns the enabled workflows of the tenant listening to triggerType
// whose filters all hold for triggerContext. No match is an empty list, not an error.
func (m *Matcher) FindMatching(
	ctx context.Context,
	tenantID, triggerType string,
	triggerContext map[string]any,
) ([]*models.Workflow, error) {
	candidates, err := m.workflows.ListEnabledByTrigger(ctx, tenantID, triggerType)
	if err != nil {
		return nil, fmt.Errorf("list workflows for trigger %s: %w", triggerType, err)
	}

	matched := make([]*models.Workflow, 0, len(candidates))

	for _, workflow := range candidates {
		if workflow.TenantID != tenantID || !workflow.Enabled || workflow.Trigger.Type != triggerType {
			continue
		}

		if !MatchesFilters(workflow.Trigger.Filters, triggerContext) {
			m.logger.DebugContext(ctx, "Workflow filters did not match",
				"workflow_id", workflow.ID,
				"tenant_id", tenantID)

			continue
		}

		matched = append(matched, workflow)
	}

	m.logger.DebugContext(ctx, "Completed workflow matching",
		"tenant_id", tenantID,
		"trigger_type", triggerType,
		"candidates", len(candidates),
		"matches_found", len(matched))

	return matched, nil
}

// MatchesFilters reports whether every filter path resolves to its expected value.
// A path is looked up in the trigger context first and then inside its payload, so
// both "payload.form_id" and "form_id" work. Values are compared in their string form.
func MatchesFilters(filters map[string]any, triggerContext map[string]any) bool {
	for path, expected := range filters {
		actual, ok := template.Lookup(triggerContext, path)
		if !ok {
			payload, _ := triggerContext["payload"].(map[string]any)
			actual, ok = template.Lookup(payload, path)
		}

		if !ok || template.Stringify(actual) != template.Stringify(expected) {
			return false
		}
	}

	return true
}
