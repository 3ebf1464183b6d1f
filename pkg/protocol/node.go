// Package protocol defines the contract between the executor and capability handlers.
package protocol

import (
	"context"
	"errors"

	"github.com/gymops/automation/pkg/models"
)

// ErrInvalidConfig marks configuration errors; retrying a node that fails with it is pointless.
var ErrInvalidConfig = errors.New("invalid node configuration")

// Input is what a handler receives for one invocation.
type Input struct {
	ExecutionID string
	WorkflowID  string
	TenantID    string
	NodeID      string
	// Config has every {{path}} expression already resolved against Scope.
	Config map[string]any
	// Scope is a read-only snapshot of the execution context.
	Scope   map[string]any
	Attempt int
}

// Output is a handler result. An empty Port means the success port.
type Output struct {
	Data any
	Port string
}

// Node executes one capability. Implementations must be safe for concurrent use;
// the same instance serves every execution.
type Node interface {
	Capability() models.Capability
	// Validate checks a raw, not yet interpolated, node configuration.
	Validate(config map[string]any) error
	Execute(ctx context.Context, input Input) (Output, error)
}

// Descriptor is the catalogue entry of a node.
type Descriptor interface {
	Name() string
	Description() string
	// Schema returns the JSON schema of the node configuration.
	Schema() map[string]any
}
