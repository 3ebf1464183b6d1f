package registry

import (
	"log/slog"
	"net/http"

	"github.com/gymops/automation/pkg/ai"
	"github.com/gymops/automation/pkg/messaging"
	"github.com/gymops/automation/pkg/nodes/aicompletion"
	"github.com/gymops/automation/pkg/nodes/branch"
	"github.com/gymops/automation/pkg/nodes/crmwrite"
	"github.com/gymops/automation/pkg/nodes/httprequest"
	"github.com/gymops/automation/pkg/nodes/log"
	"github.com/gymops/automation/pkg/nodes/sendmessage"
	"github.com/gymops/automation/pkg/nodes/trigger"
	"github.com/gymops/automation/pkg/persistence"
	"github.com/gymops/automation/pkg/protocol"
)

// Dependencies are the collaborators the built-in nodes call.
type Dependencies struct {
	Logger     *slog.Logger
	AI         ai.Provider
	Sender     messaging.Sender
	Leads      persistence.LeadRepository
	HTTPClient *http.Client
}

// RegisterDefaultNodes registers every built-in capability.
func (r *Registry) RegisterDefaultNodes(deps Dependencies) error {
	logger := deps.Logger
	if logger == nil {
		logger = r.logger
	}

	sender := deps.Sender
	if sender == nil {
		sender = messaging.NewLogSender(logger)
	}

	builtins := []protocol.Node{
		trigger.New(),
		log.New(logger),
		branch.New(),
		httprequest.New(deps.HTTPClient),
		sendmessage.New(sender),
		aicompletion.New(deps.AI),
		crmwrite.New(deps.Leads),
	}

	for _, node := range builtins {
		if err := r.Register(node); err != nil {
			return err
		}
	}

	return nil
}
