package workflow_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gymops/automation/pkg/ledger"
	"github.com/gymops/automation/pkg/messaging"
	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/persistence/file"
	"github.com/gymops/automation/pkg/protocol"
	"github.com/gymops/automation/pkg/registry"
	"github.com/gymops/automation/pkg/workflow"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// funcNode adapts a function to protocol.Node.
type funcNode struct {
	capability models.Capability
	fn         func(ctx context.Context, input protocol.Input) (protocol.Output, error)
}

func (n funcNode) Capability() models.Capability { return n.capability }

func (n funcNode) Validate(map[string]any) error { return nil }

func (n funcNode) Execute(ctx context.Context, input protocol.Input) (protocol.Output, error) {
	return n.fn(ctx, input)
}

type recordingSender struct {
	mu   sync.Mutex
	sent []messaging.Message
}

func (s *recordingSender) Send(_ context.Context, msg messaging.Message) (*messaging.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = append(s.sent, msg)

	return &messaging.Receipt{ID: uuid.NewString(), Channel: msg.Channel, Status: "queued"}, nil
}

func (s *recordingSender) messages() []messaging.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]messaging.Message(nil), s.sent...)
}

type fixture struct {
	persistence *file.Persistence
	ledger      *ledger.Ledger
	registry    *registry.Registry
	sender      *recordingSender
	executor    *workflow.Executor
}

func newFixture(t *testing.T, opts ...workflow.ExecutorOption) *fixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	logger := discardLogger()
	sender := &recordingSender{}

	reg := registry.New(logger)
	require.NoError(t, reg.RegisterDefaultNodes(registry.Dependencies{
		Logger: logger,
		Sender: sender,
		Leads:  store.LeadRepository(),
	}))

	l := ledger.New(store.ExecutionRepository(), nil, logger)

	return &fixture{
		persistence: store,
		ledger:      l,
		registry:    reg,
		sender:      sender,
		executor:    workflow.NewExecutor(reg, l, logger, opts...),
	}
}

// overlay resolves test-only capabilities on top of the built-in registry.
type overlay struct {
	base  workflow.NodeResolver
	extra map[models.Capability]protocol.Node
}

func (o overlay) Get(capability models.Capability) (protocol.Node, error) {
	if node, ok := o.extra[capability]; ok {
		return node, nil
	}

	return o.base.Get(capability)
}

// newFixtureWithNodes returns a fixture whose executor also knows the given test nodes.
func newFixtureWithNodes(t *testing.T, nodes []funcNode, opts ...workflow.ExecutorOption) *fixture {
	t.Helper()

	f := newFixture(t)

	extra := make(map[models.Capability]protocol.Node, len(nodes))
	for _, node := range nodes {
		extra[node.capability] = node
	}

	f.executor = workflow.NewExecutor(overlay{base: f.registry, extra: extra}, f.ledger, discardLogger(), opts...)

	return f
}

func (f *fixture) newExecution(t *testing.T, wf *models.Workflow, payload map[string]any) *models.Execution {
	t.Helper()

	execution := &models.Execution{
		WorkflowID: wf.ID,
		TenantID:   wf.TenantID,
		EventID:    uuid.NewString(),
		Input:      payload,
	}

	_, err := f.ledger.Create(context.Background(), execution)
	require.NoError(t, err)

	return execution
}

func (f *fixture) stored(t *testing.T, execution *models.Execution) *models.Execution {
	t.Helper()

	stored, err := f.ledger.Get(context.Background(), execution.TenantID, execution.ID)
	require.NoError(t, err)

	return stored
}

// buildWorkflow wires nodes with edges written as "source:port->target".
// The first node is the trigger node.
func buildWorkflow(nodes []*models.WorkflowNode, edges ...string) *models.Workflow {
	wf := &models.Workflow{
		ID:            uuid.NewString(),
		TenantID:      "gym-1",
		Name:          "test workflow",
		Enabled:       true,
		Trigger:       models.TriggerConfig{Type: models.TriggerTypeWebhook},
		TriggerNodeID: nodes[0].ID,
		Nodes:         nodes,
	}

	for i, edge := range edges {
		source, target, _ := strings.Cut(edge, "->")
		wf.Connections = append(wf.Connections, &models.Connection{
			ID:         "c" + string(rune('a'+i)),
			SourcePort: source,
			TargetPort: models.MakePortID(target, models.PortMain),
		})
	}

	return wf
}

func triggerNode() *models.WorkflowNode {
	return &models.WorkflowNode{ID: "start", Capability: models.CapabilityTrigger, Name: "Start"}
}

func visited(execution *models.Execution) []string {
	ids := make([]string, 0, len(execution.NodeResults))
	for _, result := range execution.NodeResults {
		ids = append(ids, result.NodeID)
	}

	return ids
}

func resultOf(execution *models.Execution, nodeID string) *models.NodeResult {
	for i := range execution.NodeResults {
		if execution.NodeResults[i].NodeID == nodeID {
			return &execution.NodeResults[i]
		}
	}

	return nil
}
