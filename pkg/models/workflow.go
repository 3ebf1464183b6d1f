package models

import (
	"time"
)

// Trigger types a workflow can listen to.
const (
	TriggerTypeWebhook      = "webhook"
	TriggerTypeFacebookLead = "facebook_lead"
)

// TriggerConfig selects which inbound events start a workflow.
// Filters map a dotted path in the trigger context to the value it must equal.
type TriggerConfig struct {
	Type    string         `json:"type"              validate:"required,oneof=webhook facebook_lead"`
	Filters map[string]any `json:"filters,omitempty"`
}

// FailureAction decides what happens after a node fails.
type FailureAction string

const (
	FailureActionStop     FailureAction = "stop"
	FailureActionContinue FailureAction = "continue"
	FailureActionRetry    FailureAction = "retry"
)

// FailurePolicy is attached to a node. The zero value stops the execution.
type FailurePolicy struct {
	Action            FailureAction `json:"action,omitempty"              validate:"omitempty,oneof=stop continue retry"`
	MaxRetries        int           `json:"max_retries,omitempty"         validate:"gte=0,lte=10"`
	InitialIntervalMs int           `json:"initial_interval_ms,omitempty" validate:"gte=0"`
	Fallback          FailureAction `json:"fallback,omitempty"            validate:"omitempty,oneof=stop continue"`
}

// EffectiveAction returns the action with defaults applied.
func (p FailurePolicy) EffectiveAction() FailureAction {
	if p.Action == "" {
		return FailureActionStop
	}

	return p.Action
}

// EffectiveFallback is the action taken once retries are exhausted.
func (p FailurePolicy) EffectiveFallback() FailureAction {
	if p.Fallback == "" {
		return FailureActionStop
	}

	return p.Fallback
}

// WorkflowNode is one step of a workflow graph.
type WorkflowNode struct {
	ID         string         `json:"id"                   validate:"required"`
	Capability Capability     `json:"capability"           validate:"required"`
	Name       string         `json:"name"                 validate:"required,min=1"`
	Config     map[string]any `json:"config"`
	TimeoutMs  int            `json:"timeout_ms,omitempty" validate:"gte=0"`
	OnFailure  FailurePolicy  `json:"on_failure"`
}

// Timeout returns the node timeout or fallback when none is configured.
func (n *WorkflowNode) Timeout(fallback time.Duration) time.Duration {
	if n.TimeoutMs <= 0 {
		return fallback
	}

	return time.Duration(n.TimeoutMs) * time.Millisecond
}

// Connection connects an output port of one node to an input port of another.
type Connection struct {
	ID         string `json:"id"`
	SourcePort string `json:"source_port" validate:"required"`
	TargetPort string `json:"target_port" validate:"required"`
}

// Workflow is a tenant-owned automation definition. The engine only reads it.
type Workflow struct {
	ID            string          `json:"id"              validate:"required"`
	TenantID      string          `json:"tenant_id"       validate:"required"`
	Name          string          `json:"name"            validate:"required,min=1"`
	Description   string          `json:"description,omitempty"`
	Enabled       bool            `json:"enabled"`
	Trigger       TriggerConfig   `json:"trigger"`
	TriggerNodeID string          `json:"trigger_node_id" validate:"required"`
	Nodes         []*WorkflowNode `json:"nodes"           validate:"required,min=1,dive"`
	Connections   []*Connection   `json:"connections"     validate:"dive"`
	Variables     map[string]any  `json:"variables,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Node returns the node with the given id or nil.
func (w *Workflow) Node(id string) *WorkflowNode {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// TriggerNode returns the designated entry node.
func (w *Workflow) TriggerNode() *WorkflowNode {
	return w.Node(w.TriggerNodeID)
}

// Next returns the ids of the nodes connected to the given output port.
func (w *Workflow) Next(nodeID, port string) []string {
	source := MakePortID(nodeID, port)

	var targets []string

	for _, conn := range w.Connections {
		if conn.SourcePort != source {
			continue
		}

		if targetNode, _, ok := ParsePortID(conn.TargetPort); ok {
			targets = append(targets, targetNode)
		}
	}

	return targets
}

// HasOutput reports whether any connection leaves the given port.
func (w *Workflow) HasOutput(nodeID, port string) bool {
	return len(w.Next(nodeID, port)) > 0
}
