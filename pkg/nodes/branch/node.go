// Package branch provides conditional routing between the true and false ports.
package branch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/protocol"
	"github.com/gymops/automation/pkg/template"
)

// Operators accepted in the comparison form of the node configuration.
const (
	OperatorEquals      = "equals"
	OperatorNotEquals   = "not_equals"
	OperatorContains    = "contains"
	OperatorStartsWith  = "starts_with"
	OperatorGreaterThan = "greater_than"
	OperatorLessThan    = "less_than"
	OperatorExists      = "exists"
	OperatorNotExists   = "not_exists"
)

var operators = map[string]bool{
	OperatorEquals:      true,
	OperatorNotEquals:   true,
	OperatorContains:    true,
	OperatorStartsWith:  true,
	OperatorGreaterThan: true,
	OperatorLessThan:    true,
	OperatorExists:      true,
	OperatorNotExists:   true,
}

// Node evaluates either a single "condition" value for truthiness or a
// "left operator right" comparison, and routes to the true or false port.
type Node struct{}

func New() *Node {
	return &Node{}
}

func (n *Node) Capability() models.Capability {
	return models.CapabilityBranch
}

func (n *Node) Name() string {
	return "Branch"
}

func (n *Node) Description() string {
	return "Evaluates a condition and routes execution to the true or false port."
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"condition": map[string]any{
				"description": "Value evaluated for truthiness, usually a {{path}} expression",
			},
			"left": map[string]any{
				"description": "Left operand of the comparison",
			},
			"operator": map[string]any{
				"type": "string",
				"enum": []string{
					OperatorEquals, OperatorNotEquals, OperatorContains, OperatorStartsWith,
					OperatorGreaterThan, OperatorLessThan, OperatorExists, OperatorNotExists,
				},
			},
			"right": map[string]any{
				"description": "Right operand of the comparison",
			},
		},
		"oneOf": []any{
			map[string]any{"required": []string{"condition"}},
			map[string]any{"required": []string{"left", "operator"}},
		},
	}
}

func (n *Node) Validate(config map[string]any) error {
	if _, ok := config["condition"]; ok {
		return nil
	}

	operator := protocol.StringField(config, "operator")
	if operator == "" {
		return fmt.Errorf("%w: missing required field 'condition' or 'operator'", protocol.ErrInvalidConfig)
	}

	if !operators[operator] {
		return fmt.Errorf("%w: unknown operator '%s'", protocol.ErrInvalidConfig, operator)
	}

	if _, ok := config["left"]; !ok {
		return fmt.Errorf("%w: missing required field 'left'", protocol.ErrInvalidConfig)
	}

	return nil
}

func (n *Node) Execute(_ context.Context, input protocol.Input) (protocol.Output, error) {
	if err := n.Validate(input.Config); err != nil {
		return protocol.Output{}, err
	}

	var result bool

	if condition, ok := input.Config["condition"]; ok {
		result = Truthy(condition)
	} else {
		result = compare(input.Config["left"], protocol.StringField(input.Config, "operator"), input.Config["right"])
	}

	port := models.PortFalse
	if result {
		port = models.PortTrue
	}

	return protocol.Output{
		Data: map[string]any{"condition_result": result},
		Port: port,
	}, nil
}

// Truthy converts a resolved value to a boolean. Empty strings, zero numbers,
// empty collections and nil are false.
func Truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}

		return strings.TrimSpace(v) != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return false
	}
}

func compare(left any, operator string, right any) bool {
	leftText := template.Stringify(left)
	rightText := template.Stringify(right)

	switch operator {
	case OperatorEquals:
		return leftText == rightText
	case OperatorNotEquals:
		return leftText != rightText
	case OperatorContains:
		return strings.Contains(leftText, rightText)
	case OperatorStartsWith:
		return strings.HasPrefix(leftText, rightText)
	case OperatorExists:
		return leftText != ""
	case OperatorNotExists:
		return leftText == ""
	case OperatorGreaterThan, OperatorLessThan:
		l, lerr := strconv.ParseFloat(strings.TrimSpace(leftText), 64)
		r, rerr := strconv.ParseFloat(strings.TrimSpace(rightText), 64)

		if lerr != nil || rerr != nil {
			return false
		}

		if operator == OperatorGreaterThan {
			return l > r
		}

		return l < r
	default:
		return false
	}
}
