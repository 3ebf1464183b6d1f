// Package registry maps capabilities to the nodes that execute them.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/protocol"
)

var (
	ErrUnknownCapability = errors.New("unknown capability")
	ErrInvalidWorkflow   = errors.New("invalid workflow")
)

// CapabilityInfo is one entry of the capability catalogue.
type CapabilityInfo struct {
	Capability  models.Capability `json:"capability"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Schema      map[string]any    `json:"schema"`
}

type Registry struct {
	logger   *slog.Logger
	validate *validator.Validate

	mu    sync.RWMutex
	nodes map[models.Capability]protocol.Node
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger.With("module", "registry"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		nodes:    make(map[models.Capability]protocol.Node),
	}
}

// Register adds node under its capability. Only capabilities of the closed set are accepted.
func (r *Registry) Register(node protocol.Node) error {
	capability := node.Capability()
	if !capability.IsValid() {
		return fmt.Errorf("%w: %s", ErrUnknownCapability, capability)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[capability]; exists {
		r.logger.Warn("Replacing registered node", "capability", capability)
	}

	r.nodes[capability] = node

	return nil
}

// Get returns the node registered for capability.
func (r *Registry) Get(capability models.Capability) (protocol.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[capability]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, capability)
	}

	return node, nil
}

// Catalogue lists registered capabilities in their canonical order.
func (r *Registry) Catalogue() []CapabilityInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]CapabilityInfo, 0, len(r.nodes))

	for _, capability := range models.Capabilities() {
		node, ok := r.nodes[capability]
		if !ok {
			continue
		}

		info := CapabilityInfo{Capability: capability, Name: string(capability), Schema: map[string]any{}}

		if descriptor, ok := node.(protocol.Descriptor); ok {
			info.Name = descriptor.Name()
			info.Description = descriptor.Description()
			info.Schema = descriptor.Schema()
		}

		infos = append(infos, info)
	}

	return infos
}

// ValidateWorkflow checks struct constraints, node configurations and the graph shape.
// Every problem found is reported, joined into one ErrInvalidWorkflow error.
func (r *Registry) ValidateWorkflow(workflow *models.Workflow) error {
	if workflow == nil {
		return fmt.Errorf("%w: workflow is nil", ErrInvalidWorkflow)
	}

	var problems []error

	if err := r.validate.Struct(workflow); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			for _, fieldErr := range validationErrors {
				problems = append(problems, fmt.Errorf("%s failed on '%s'", fieldErr.Namespace(), fieldErr.Tag()))
			}
		} else {
			problems = append(problems, err)
		}
	}

	seen := make(map[string]bool, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		if node == nil {
			continue
		}

		if seen[node.ID] {
			problems = append(problems, fmt.Errorf("duplicate node id '%s'", node.ID))
		}

		seen[node.ID] = true

		impl, err := r.Get(node.Capability)
		if err != nil {
			problems = append(problems, fmt.Errorf("node '%s': %w", node.ID, err))

			continue
		}

		if err := impl.Validate(node.Config); err != nil {
			problems = append(problems, fmt.Errorf("node '%s': %w", node.ID, err))
		}
	}

	trigger := workflow.TriggerNode()

	switch {
	case trigger == nil:
		problems = append(problems, fmt.Errorf("trigger node '%s' not found", workflow.TriggerNodeID))
	case trigger.Capability != models.CapabilityTrigger:
		problems = append(problems, fmt.Errorf("trigger node '%s' has capability '%s'", trigger.ID, trigger.Capability))
	}

	for _, conn := range workflow.Connections {
		if conn == nil {
			continue
		}

		if err := checkConnection(workflow, conn); err != nil {
			problems = append(problems, err)
		}
	}

	if len(problems) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrInvalidWorkflow, errors.Join(problems...))
}

func checkConnection(workflow *models.Workflow, conn *models.Connection) error {
	sourceNode, sourcePort, ok := models.ParsePortID(conn.SourcePort)
	if !ok {
		return fmt.Errorf("connection '%s': malformed source port '%s'", conn.ID, conn.SourcePort)
	}

	targetNode, targetPort, ok := models.ParsePortID(conn.TargetPort)
	if !ok {
		return fmt.Errorf("connection '%s': malformed target port '%s'", conn.ID, conn.TargetPort)
	}

	if workflow.Node(sourceNode) == nil {
		return fmt.Errorf("connection '%s': unknown source node '%s'", conn.ID, sourceNode)
	}

	if workflow.Node(targetNode) == nil {
		return fmt.Errorf("connection '%s': unknown target node '%s'", conn.ID, targetNode)
	}

	switch sourcePort {
	case models.PortSuccess, models.PortError, models.PortTrue, models.PortFalse:
	default:
		return fmt.Errorf("connection '%s': unknown output port '%s'", conn.ID, sourcePort)
	}

	if targetPort != models.PortMain {
		return fmt.Errorf("connection '%s': unknown input port '%s'", conn.ID, targetPort)
	}

	if targetNode == workflow.TriggerNodeID {
		return fmt.Errorf("connection '%s': trigger node cannot be a target", conn.ID)
	}

	return nil
}
