package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/martinemde/planact/gateway"
)

// Decision is the outcome of an approval check.
type Decision string

const (
	DecisionAutoApprove     Decision = "auto_approve"
	DecisionRequireApproval Decision = "require_approval"
)

// DecisionInput is what a Decider sees for one tool call.
type DecisionInput struct {
	ToolName              string        `json:"tool_name"`
	AutonomyLevel         AutonomyLevel `json:"autonomy_level"`
	ApprovalRequiredNames []string      `json:"approval_required_names"`
}

// Decider decides whether a tool call needs human approval.
type Decider interface {
	Decide(ctx context.Context, in DecisionInput) (Decision, error)
}

// RuleDecider applies the autonomy rules directly: full never asks,
// supervised always asks, semi asks for the listed tool names only.
type RuleDecider struct{}

func (RuleDecider) Decide(_ context.Context, in DecisionInput) (Decision, error) {
	switch in.AutonomyLevel {
	case AutonomyFull:
		return DecisionAutoApprove, nil
	case AutonomySupervised:
		return DecisionRequireApproval, nil
	case AutonomySemi:
		for _, name := range in.ApprovalRequiredNames {
			if name == in.ToolName {
				return DecisionRequireApproval, nil
			}
		}
		return DecisionAutoApprove, nil
	default:
		return "", fmt.Errorf("unknown autonomy level %q", in.AutonomyLevel)
	}
}

// PendingApproval is a tool call waiting for the user's answer.
type PendingApproval struct {
	ConversationID string           `json:"conversation_id"`
	ToolCall       gateway.ToolCall `json:"tool_call"`
	RaisedAt       time.Time        `json:"raised_at"`
}

// ApprovalGate holds at most one pending call per conversation.
type ApprovalGate struct {
	decider Decider

	mu      sync.Mutex
	pending map[string]PendingApproval
}

// NewApprovalGate creates a gate. A nil decider selects RuleDecider.
func NewApprovalGate(decider Decider) *ApprovalGate {
	if decider == nil {
		decider = RuleDecider{}
	}
	return &ApprovalGate{
		decider: decider,
		pending: make(map[string]PendingApproval),
	}
}

// RequiresApproval evaluates the decider for call under cfg. A decider
// failure counts as requiring approval.
func (g *ApprovalGate) RequiresApproval(ctx context.Context, call gateway.ToolCall, cfg Config) (bool, error) {
	d, err := g.decider.Decide(ctx, DecisionInput{
		ToolName:              call.Name,
		AutonomyLevel:         cfg.AutonomyLevel,
		ApprovalRequiredNames: cfg.ApprovalRequiredNames,
	})
	if err != nil {
		return true, err
	}
	return d != DecisionAutoApprove, nil
}

// Hold records call as pending for the conversation.
func (g *ApprovalGate) Hold(conversationID string, call gateway.ToolCall) (PendingApproval, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.pending[conversationID]; exists {
		return PendingApproval{}, ErrApprovalPending
	}
	p := PendingApproval{
		ConversationID: conversationID,
		ToolCall:       call,
		RaisedAt:       time.Now().UTC(),
	}
	g.pending[conversationID] = p
	return p, nil
}

// Take removes and returns the pending call for the conversation.
func (g *ApprovalGate) Take(conversationID string) (PendingApproval, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pending[conversationID]
	if ok {
		delete(g.pending, conversationID)
	}
	return p, ok
}

// Pending returns the pending call for the conversation without removing it.
func (g *ApprovalGate) Pending(conversationID string) (PendingApproval, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pending[conversationID]
	return p, ok
}

// Discard drops any pending call for the conversation.
func (g *ApprovalGate) Discard(conversationID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, conversationID)
}
