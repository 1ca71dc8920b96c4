// Package policy decides which tool invocations require explicit human
// approval before execution, via an OPA/Rego policy.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.confirm_policy.decision"),
		rego.Module("confirm_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// RequiresConfirmation evaluates the policy for a paused tool invocation.
// Input is the (execution-node, tool-name) pair of the pending step.
func (e *Engine) RequiresConfirmation(ctx context.Context, node, toolName string) (bool, error) {
	input := map[string]any{
		"node":      node,
		"tool_name": toolName,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}

	decision, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return false, nil
	}
	return decision == "require_approval", nil
}

// DefaultPolicy is the default must-confirm tool set. Sensitive
// outbound-effect tools pause for human approval; everything else runs
// transparently.
const DefaultPolicy = `
package confirm_policy

import rego.v1

default decision := "allow"

confirm_tools := {"send_gmail"}

decision := "require_approval" if {
	input.node == "tools"
	input.tool_name in confirm_tools
}
`
