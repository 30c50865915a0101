// Package policy decides tool call approvals with OPA rego policies.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"

	"github.com/martinemde/planact/agent"
)

// Query is the rule every approval policy must define.
const Query = "data.approval_policy.decision"

// DefaultPolicy encodes the built-in autonomy rules: full never asks,
// supervised always asks, semi asks for the listed tools only. Unknown
// autonomy levels ask.
const DefaultPolicy = `
package approval_policy

default decision = "require_approval"

decision = "auto_approve" {
	input.autonomy_level == "full"
}

decision = "auto_approve" {
	input.autonomy_level == "semi"
	not approval_listed
}

approval_listed {
	input.approval_required_names[_] == input.tool_name
}
`

// RegoDecider is an agent.Decider backed by a prepared rego query.
type RegoDecider struct {
	query rego.PreparedEvalQuery
}

var _ agent.Decider = (*RegoDecider)(nil)

// NewRegoDecider compiles module. An empty module selects DefaultPolicy.
func NewRegoDecider(ctx context.Context, module string) (*RegoDecider, error) {
	if module == "" {
		module = DefaultPolicy
	}
	r := rego.New(
		rego.Query(Query),
		rego.Module("approval_policy.rego", module),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare approval policy: %w", err)
	}
	return &RegoDecider{query: query}, nil
}

// LoadRegoDecider compiles the policy file at path.
func LoadRegoDecider(ctx context.Context, path string) (*RegoDecider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read approval policy: %w", err)
	}
	return NewRegoDecider(ctx, string(data))
}

// Decide evaluates the policy for one tool call.
func (d *RegoDecider) Decide(ctx context.Context, in agent.DecisionInput) (agent.Decision, error) {
	names := make([]any, len(in.ApprovalRequiredNames))
	for i, n := range in.ApprovalRequiredNames {
		names[i] = n
	}
	input := map[string]any{
		"tool_name":               in.ToolName,
		"autonomy_level":          string(in.AutonomyLevel),
		"approval_required_names": names,
	}

	results, err := d.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("evaluate approval policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "", fmt.Errorf("approval policy produced no decision for %s", in.ToolName)
	}

	s, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return "", fmt.Errorf("approval policy returned %T, want string", results[0].Expressions[0].Value)
	}
	switch decision := agent.Decision(s); decision {
	case agent.DecisionAutoApprove, agent.DecisionRequireApproval:
		return decision, nil
	default:
		return "", fmt.Errorf("approval policy returned unknown decision %q", s)
	}
}
