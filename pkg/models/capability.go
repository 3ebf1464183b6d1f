// Package models defines the data types shared by the automation pipeline.
package models

// Capability is the declared kind of action a workflow node performs.
// The set is closed: the registry only dispatches to known capabilities.
type Capability string

const (
	CapabilityTrigger      Capability = "trigger"
	CapabilitySendMessage  Capability = "send_message"
	CapabilityAICompletion Capability = "ai_completion"
	CapabilityBranch       Capability = "branch"
	CapabilityCRMWrite     Capability = "crm_write"
	CapabilityHTTPRequest  Capability = "http_request"
	CapabilityLog          Capability = "log"
)

// Capabilities returns every known capability in a stable order.
func Capabilities() []Capability {
	return []Capability{
		CapabilityTrigger,
		CapabilitySendMessage,
		CapabilityAICompletion,
		CapabilityBranch,
		CapabilityCRMWrite,
		CapabilityHTTPRequest,
		CapabilityLog,
	}
}

func (c Capability) IsValid() bool {
	for _, known := range Capabilities() {
		if c == known {
			return true
		}
	}

	return false
}
