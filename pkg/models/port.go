package models

// Output port names a node can route to.
const (
	PortSuccess = "success"
	PortError   = "error"
	PortTrue    = "true"
	PortFalse   = "false"
	PortMain    = "main"
)

// ParsePortID parses a port ID in format "{node_id}:{port_name}" into components.
func ParsePortID(portID string) (string, string, bool) {
	for i := range len(portID) {
		if portID[i] == ':' {
			return portID[:i], portID[i+1:], true
		}
	}

	return "", "", false
}

// MakePortID creates a port ID from node ID and port name.
func MakePortID(nodeID, portName string) string {
	return nodeID + ":" + portName
}
