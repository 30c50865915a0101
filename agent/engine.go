package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/martinemde/planact/conversation"
	"github.com/martinemde/planact/gateway"
)

// refusalText is recorded as the tool result when the user rejects a call.
var refusalText = "Error: " + ErrRefusedByUser.Error() + "."

// ModelGateway is the model inference contract the engine needs.
// *gateway.Client satisfies it.
type ModelGateway interface {
	Complete(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// Conversations is the conversation store contract the engine needs.
// *conversation.Manager satisfies it.
type Conversations interface {
	SetCurrent(ctx context.Context, conversationID string) error
	Current() string
	AddMessage(ctx context.Context, role conversation.Role, content, conversationID string, opts ...conversation.MessageOption) (conversation.Message, error)
	AssembleForModel(ctx context.Context, conversationID, systemPrompt string) ([]gateway.Message, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the initial configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg.clone().normalize()
	}
}

// WithDecider replaces the built-in approval rule.
func WithDecider(d Decider) Option {
	return func(e *Engine) {
		e.gate = NewApprovalGate(d)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithHallucinationFilter sets a fixed filter, ignoring
// Config.HallucinationMarkers.
func WithHallucinationFilter(f *HallucinationFilter) Option {
	return func(e *Engine) {
		e.filter = f
	}
}

// WithPromptBuilder sets the system prompt builder.
func WithPromptBuilder(b *PromptBuilder) Option {
	return func(e *Engine) {
		e.prompt = b
	}
}

// Engine runs the Plan & Act loop. Runs of the same conversation are
// serialized; different conversations run concurrently.
type Engine struct {
	gw     ModelGateway
	convs  Conversations
	tools  *ToolRegistry
	gate   *ApprovalGate
	filter *HallucinationFilter
	prompt *PromptBuilder
	logger *slog.Logger
	locks  *keyedMutex

	mu  sync.RWMutex
	cfg Config
}

// NewEngine creates an engine. A nil registry means no tools.
func NewEngine(gw ModelGateway, convs Conversations, tools *ToolRegistry, opts ...Option) *Engine {
	if tools == nil {
		tools = NewToolRegistry()
	}
	e := &Engine{
		gw:     gw,
		convs:  convs,
		tools:  tools,
		logger: slog.Default(),
		locks:  newKeyedMutex(),
		cfg:    DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.gate == nil {
		e.gate = NewApprovalGate(nil)
	}
	if e.prompt == nil {
		e.prompt = NewPromptBuilder("")
	}
	return e
}

// Config returns a copy of the current configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.clone()
}

// SetConfig replaces the configuration for subsequent runs.
func (e *Engine) SetConfig(cfg Config) {
	cfg = cfg.clone().normalize()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

// Tools returns the engine's tool registry.
func (e *Engine) Tools() *ToolRegistry {
	return e.tools
}

// PendingApproval returns the call waiting for approval in a conversation.
func (e *Engine) PendingApproval(conversationID string) (PendingApproval, bool) {
	return e.gate.Pending(conversationID)
}

// ProcessMessage appends text as a user message and runs the loop. An empty
// text runs the loop without a new message; an empty conversation id means
// the current conversation, or a new one when none is current. The returned
// channel is closed after the final done event. Cancelling ctx stops the run
// at the next model call, tool call or event. A consumer that stops reading
// without cancelling holds the run at its next event once EventBuffer events
// are queued; with the default of zero nothing runs ahead of the reader.
func (e *Engine) ProcessMessage(ctx context.Context, conversationID, text string) <-chan Event {
	if conversationID == "" {
		conversationID = e.convs.Current()
	}
	if conversationID == "" {
		conversationID = uuid.New().String()
	}
	r := e.newRun(ctx, conversationID)

	go func() {
		defer r.em.close()
		unlock := e.locks.lock(conversationID)
		defer unlock()

		if err := e.convs.SetCurrent(ctx, conversationID); err != nil {
			r.em.emit(errorEvent(err, "failed to open the conversation"))
			r.finish()
			return
		}
		if text == "" {
			if _, ok := e.gate.Pending(conversationID); ok {
				r.em.emit(errorEvent(ErrApprovalPending, ErrApprovalPending.Error()))
				r.finish()
				return
			}
		} else {
			// A new message while a call waits for approval counts as a refusal.
			if p, ok := e.gate.Take(conversationID); ok {
				r.logger.Info("pending approval superseded by new message", "tool", p.ToolCall.Name)
				if !r.reject(p.ToolCall) {
					r.finish()
					return
				}
			}
			if _, err := e.convs.AddMessage(ctx, conversation.RoleUser, text, conversationID); err != nil {
				r.em.emit(errorEvent(err, "failed to record the message"))
				r.finish()
				return
			}
		}
		r.loop()
	}()
	return r.em.events()
}

// ProcessApproval resolves the pending call of a conversation and resumes
// the loop. Approving executes the call; rejecting records a refusal the
// model can react to.
func (e *Engine) ProcessApproval(ctx context.Context, conversationID string, approved bool) <-chan Event {
	if conversationID == "" {
		conversationID = e.convs.Current()
	}
	r := e.newRun(ctx, conversationID)

	go func() {
		defer r.em.close()
		unlock := e.locks.lock(conversationID)
		defer unlock()

		p, ok := e.gate.Take(conversationID)
		if !ok {
			r.em.emit(errorEvent(ErrNoPendingApproval, ErrNoPendingApproval.Error()))
			r.finish()
			return
		}

		var resumed bool
		if approved {
			r.logger.Info("tool call approved", "tool", p.ToolCall.Name, "tool_call_id", p.ToolCall.ID)
			resumed = r.execute(p.ToolCall)
		} else {
			r.logger.Info("tool call rejected", "tool", p.ToolCall.Name, "tool_call_id", p.ToolCall.ID)
			resumed = r.reject(p.ToolCall)
		}
		if !resumed {
			r.finish()
			return
		}
		r.loop()
	}()
	return r.em.events()
}

// run is the state of one ProcessMessage or ProcessApproval call.
type run struct {
	e              *Engine
	ctx            context.Context
	cfg            Config
	conversationID string
	em             *emitter
	filter         *HallucinationFilter
	logger         *slog.Logger

	iterations int
	history    callHistory
	loopWarned bool
}

func (e *Engine) newRun(ctx context.Context, conversationID string) *run {
	cfg := e.Config()
	filter := e.filter
	if filter == nil {
		filter = NewHallucinationFilter(cfg.HallucinationMarkers, nil)
	}
	return &run{
		e:              e,
		ctx:            ctx,
		cfg:            cfg,
		conversationID: conversationID,
		em:             newEmitter(ctx, conversationID, cfg.EventBuffer),
		filter:         filter,
		logger:         e.logger.With("conversation_id", conversationID),
	}
}

func (r *run) finish() {
	r.em.emit(EventDone, map[string]any{"iterations": r.iterations})
}

// loop runs iterations until the model answers, a call needs approval, the
// budget is spent, or the run fails. It always ends with a done event.
func (r *run) loop() {
	defer r.finish()

	for r.iterations < r.cfg.MaxIterations {
		r.iterations++
		if !r.em.emit(thinkingEvent(r.iterations, "Analyzing and planning...")) {
			return
		}

		resp, ok := r.infer()
		if !ok {
			return
		}

		content := resp.Content
		calls := append([]gateway.ToolCall(nil), resp.ToolCalls...)
		if content != "" {
			if rec := RecoverToolCalls(content); rec.Found() {
				r.logger.Info("recovered tool calls from text", "count", len(rec.Calls))
				calls = append(calls, rec.Calls...)
				content = StripMatched(content, rec.Matched)
			}
		}

		if len(calls) > 0 && content != "" {
			if reasoning := extractReasoning(content); reasoning != "" {
				if !r.em.emit(reasoningEvent("Analyzing...", reasoning)) {
					return
				}
			}
		}

		if r.filter.Detect(content) {
			r.logger.Warn("hallucinated tool result detected, discarding content")
			content = ""
		}

		if len(calls) > 0 {
			if !r.act(calls) {
				return
			}
			continue
		}

		if content != "" {
			if _, err := r.e.convs.AddMessage(r.ctx, conversation.RoleAssistant, content, r.conversationID); err != nil {
				r.em.emit(errorEvent(err, "failed to record the answer"))
				return
			}
			r.em.emit(EventMessage, map[string]any{
				"content":       content,
				"finish_reason": resp.FinishReason,
			})
		}
		return
	}
	r.logger.Info("iteration limit reached", "max_iterations", r.cfg.MaxIterations)
}

// infer assembles the model input and calls the gateway.
func (r *run) infer() (*gateway.Response, bool) {
	defs := r.e.tools.Definitions()
	native := true
	if nt, ok := r.e.gw.(gateway.NativeToolCaller); ok {
		native = nt.SupportsNativeTools()
	}
	systemPrompt := r.e.prompt.Build(r.cfg, defs, native)

	messages, err := r.e.convs.AssembleForModel(r.ctx, r.conversationID, systemPrompt)
	if err != nil {
		r.em.emit(errorEvent(err, "failed to load the conversation"))
		return nil, false
	}

	temperature := r.cfg.Temperature
	maxTokens := r.cfg.MaxTokens
	req := gateway.Request{
		Model:       r.cfg.Model,
		Messages:    messages,
		Tools:       defs,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}

	resp, err := r.complete(req)
	if err != nil {
		r.logger.Error("model call failed", "error", err)
		r.em.emit(errorEvent(err, "error communicating with the model"))
		return nil, false
	}
	return resp, true
}

// streamingGateway is a gateway with a streaming call.
type streamingGateway interface {
	Stream(ctx context.Context, req gateway.Request) (<-chan gateway.StreamEvent, error)
}

func (r *run) complete(req gateway.Request) (*gateway.Response, error) {
	if sg, ok := r.e.gw.(streamingGateway); ok && r.cfg.Stream {
		ch, err := sg.Stream(r.ctx, req)
		if err != nil {
			return nil, err
		}
		resp, err := gateway.Collect(ch)
		if err == nil && r.ctx.Err() != nil {
			return nil, r.ctx.Err()
		}
		return resp, err
	}
	return r.e.gw.Complete(r.ctx, req)
}

// act records the calls and dispatches them in order. It returns false when
// the run must stop: a call needs approval, the consumer went away, or the
// conversation could not be written.
func (r *run) act(calls []gateway.ToolCall) bool {
	_, err := r.e.convs.AddMessage(r.ctx, conversation.RoleAssistant, "", r.conversationID,
		conversation.WithToolCalls(conversation.RefsFromCalls(calls)))
	if err != nil {
		r.em.emit(errorEvent(err, "failed to record tool calls"))
		return false
	}

	for i, call := range calls {
		if !r.em.emit(EventToolCall, map[string]any{
			"tool":         call.Name,
			"arguments":    call.Arguments,
			"tool_call_id": call.ID,
		}) {
			return false
		}

		r.history.add(call)
		if !r.loopWarned && r.history.looping(r.cfg.LoopDetectionWindow) {
			r.loopWarned = true
			r.logger.Warn("repeating tool call pattern detected", "tool", call.Name)
			if !r.em.emit(reasoningEvent("Repeating tool calls detected",
				fmt.Sprintf("The last %d tool calls follow a repeating pattern.", r.cfg.LoopDetectionWindow))) {
				return false
			}
		}

		needsApproval, err := r.e.gate.RequiresApproval(r.ctx, call, r.cfg)
		if err != nil {
			r.logger.Warn("approval decision failed, requiring approval", "tool", call.Name, "error", err)
		}
		if needsApproval {
			r.hold(call, calls[i+1:])
			return false
		}

		if !r.execute(call) {
			return false
		}
	}
	return true
}

// hold parks call for approval. The calls after it in the batch are
// recorded as skipped so every recorded call has a result.
func (r *run) hold(call gateway.ToolCall, rest []gateway.ToolCall) {
	if _, err := r.e.gate.Hold(r.conversationID, call); err != nil {
		r.em.emit(errorEvent(err, err.Error()))
		return
	}
	for _, skipped := range rest {
		text := fmt.Sprintf("Error: not executed because %s is waiting for the user's approval. Call it again if it is still needed.", call.Name)
		if _, err := r.e.convs.AddMessage(r.ctx, conversation.RoleTool, text, r.conversationID,
			conversation.WithToolCallID(skipped.ID)); err != nil {
			r.logger.Error("failed to record skipped tool call", "tool", skipped.Name, "error", err)
		}
	}
	r.logger.Info("tool call requires approval", "tool", call.Name, "tool_call_id", call.ID, "skipped", len(rest))
	r.em.emit(EventApprovalRequired, map[string]any{
		"tool":         call.Name,
		"arguments":    call.Arguments,
		"tool_call_id": call.ID,
		"message":      fmt.Sprintf("The tool '%s' requires your approval before it runs.", call.Name),
	})
}

// execute dispatches call and records its outcome.
func (r *run) execute(call gateway.ToolCall) bool {
	result, err := r.dispatch(call)
	if err != nil {
		r.logger.Warn("tool failed", "tool", call.Name, "error", err)
		return r.record(call, "Error: "+err.Error(), map[string]any{
			"error":   err.Error(),
			"success": false,
		})
	}
	r.logger.Debug("tool executed", "tool", call.Name, "tool_call_id", call.ID)
	return r.record(call, resultText(result), map[string]any{
		"result":  result,
		"success": succeeded(result),
	})
}

func (r *run) reject(call gateway.ToolCall) bool {
	return r.record(call, refusalText, map[string]any{
		"result":  refusalText,
		"success": false,
	})
}

func (r *run) dispatch(call gateway.ToolCall) (result map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool %s panicked: %v", call.Name, p)
		}
	}()
	return r.e.tools.Execute(r.ctx, call.Name, call.Arguments)
}

// record appends the tool message then emits the tool_result event.
func (r *run) record(call gateway.ToolCall, text string, data map[string]any) bool {
	stored := TruncateToolResult(text, r.cfg.MaxToolResultChars)
	if _, err := r.e.convs.AddMessage(r.ctx, conversation.RoleTool, stored, r.conversationID,
		conversation.WithToolCallID(call.ID)); err != nil {
		r.em.emit(errorEvent(err, "failed to record the tool result"))
		return false
	}
	data["tool"] = call.Name
	data["tool_call_id"] = call.ID
	return r.em.emit(EventToolResult, data)
}

// resultText renders a tool result for the conversation.
func resultText(result map[string]any) string {
	if result == nil {
		return "{}"
	}
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprint(result)
	}
	return string(b)
}

// succeeded reads the optional "success" flag of a tool result.
func succeeded(result map[string]any) bool {
	if s, ok := result["success"].(bool); ok {
		return s
	}
	return true
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
