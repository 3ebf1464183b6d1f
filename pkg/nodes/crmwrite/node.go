// Package crmwrite provides a node that creates or updates a lead in the tenant CRM.
package crmwrite

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence"
	"github.com/gymops/automation/pkg/protocol"
)

type Node struct {
	leads persistence.LeadRepository
}

func New(leads persistence.LeadRepository) *Node {
	return &Node{leads: leads}
}

func (n *Node) Capability() models.Capability {
	return models.CapabilityCRMWrite
}

func (n *Node) Name() string {
	return "CRM Write"
}

func (n *Node) Description() string {
	return "Creates or updates a lead keyed by email. Existing values are kept when the new value is empty."
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"email":  map[string]any{"type": "string"},
			"name":   map[string]any{"type": "string"},
			"phone":  map[string]any{"type": "string"},
			"source": map[string]any{"type": "string"},
			"stage": map[string]any{
				"type":        "string",
				"description": "Pipeline stage, e.g. new, contacted, trial, member",
			},
			"fields": map[string]any{
				"type":        "object",
				"description": "Custom fields merged into the existing lead",
			},
		},
		"required": []string{"email"},
	}
}

func (n *Node) Validate(config map[string]any) error {
	if _, err := protocol.RequireString(config, "email"); err != nil {
		return err
	}

	if fields, ok := config["fields"]; ok && fields != nil {
		if _, isMap := fields.(map[string]any); !isMap {
			return fmt.Errorf("%w: field 'fields' must be an object", protocol.ErrInvalidConfig)
		}
	}

	return nil
}

func (n *Node) Execute(ctx context.Context, input protocol.Input) (protocol.Output, error) {
	if err := n.Validate(input.Config); err != nil {
		return protocol.Output{}, err
	}

	email := strings.ToLower(protocol.StringField(input.Config, "email"))
	if _, err := mail.ParseAddress(email); err != nil {
		return protocol.Output{}, fmt.Errorf("%w: invalid email '%s'", protocol.ErrInvalidConfig, email)
	}

	fields, _ := input.Config["fields"].(map[string]any)

	lead, err := n.leads.Upsert(ctx, &models.Lead{
		TenantID: input.TenantID,
		Email:    email,
		Name:     protocol.StringField(input.Config, "name"),
		Phone:    protocol.StringField(input.Config, "phone"),
		Source:   protocol.StringField(input.Config, "source"),
		Stage:    protocol.StringField(input.Config, "stage"),
		Fields:   fields,
	})
	if err != nil {
		return protocol.Output{}, fmt.Errorf("failed to write lead: %w", err)
	}

	return protocol.Output{
		Data: map[string]any{
			"lead_id": lead.ID,
			"email":   lead.Email,
			"name":    lead.Name,
			"phone":   lead.Phone,
			"stage":   lead.Stage,
			"created": lead.CreatedAt.Equal(lead.UpdatedAt),
		},
	}, nil
}
