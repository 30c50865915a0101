package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/martinemde/planact/conversation"
	"github.com/martinemde/planact/gateway"
)

// scriptedGateway returns its responses in order, then fallback.
type scriptedGateway struct {
	mu        sync.Mutex
	responses []*gateway.Response
	errs      map[int]error
	fallback  *gateway.Response
	requests  []gateway.Request
	native    *bool
}

func (g *scriptedGateway) Complete(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	i := len(g.requests) - 1
	if err, ok := g.errs[i]; ok {
		return nil, err
	}
	if i < len(g.responses) {
		return g.responses[i], nil
	}
	if g.fallback != nil {
		return g.fallback, nil
	}
	return &gateway.Response{Content: "done", FinishReason: gateway.FinishStop}, nil
}

func (g *scriptedGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// nativeGateway reports whether the backend supports native tool calling.
type nativeGateway struct {
	*scriptedGateway
	supported bool
}

func (g nativeGateway) SupportsNativeTools() bool { return g.supported }

func answer(text string) *gateway.Response {
	return &gateway.Response{Content: text, FinishReason: gateway.FinishStop}
}

func callResponse(calls ...gateway.ToolCall) *gateway.Response {
	return &gateway.Response{ToolCalls: calls, FinishReason: gateway.FinishToolCalls}
}

func call(id, name string, args map[string]any) gateway.ToolCall {
	if args == nil {
		args = map[string]any{}
	}
	return gateway.ToolCall{ID: id, Name: name, Arguments: args}
}

type countingTool struct {
	name   string
	count  atomic.Int32
	result map[string]any
	err    error
}

func (t *countingTool) Definition() ToolDefinition {
	return ToolDefinition{Name: t.name, Description: "test tool " + t.name}
}

func (t *countingTool) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	t.count.Add(1)
	if t.err != nil {
		return nil, t.err
	}
	if t.result != nil {
		return t.result, nil
	}
	return map[string]any{"success": true, "tool": t.name}, nil
}

func newTestEngine(gw ModelGateway, cfg Config, tools ...Tool) (*Engine, *conversation.Manager) {
	mgr := conversation.NewManager(conversation.NewMemoryStore())
	e := NewEngine(gw, mgr, NewToolRegistry(tools...),
		WithConfig(cfg),
		WithPromptBuilder(&PromptBuilder{Base: "You are a test agent.", Platform: "test"}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return e, mgr
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %v", kinds(events))
			return nil
		}
	}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func ofKind(events []Event, kind EventKind) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func expectKinds(t *testing.T, events []Event, want ...EventKind) {
	t.Helper()
	got := kinds(events)
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func lastDone(t *testing.T, events []Event) int {
	t.Helper()
	if len(events) == 0 || events[len(events)-1].Kind != EventDone {
		t.Fatalf("expected done as last event, got %v", kinds(events))
	}
	n, _ := events[len(events)-1].Data["iterations"].(int)
	return n
}

func fullConfig() Config {
	cfg := DefaultConfig()
	cfg.AutonomyLevel = AutonomyFull
	return cfg
}

func TestProcessMessageFinalAnswer(t *testing.T) {
	gw := &scriptedGateway{responses: []*gateway.Response{answer("Paris is the capital of France.")}}
	e, mgr := newTestEngine(gw, DefaultConfig())

	events := collect(t, e.ProcessMessage(context.Background(), "c1", "What is the capital of France?"))

	expectKinds(t, events, EventThinking, EventMessage, EventDone)
	if got := events[1].String("content"); got != "Paris is the capital of France." {
		t.Errorf("unexpected message content %q", got)
	}
	if got := events[1].String("finish_reason"); got != gateway.FinishStop {
		t.Errorf("expected finish_reason %q, got %q", gateway.FinishStop, got)
	}
	if n := lastDone(t, events); n != 1 {
		t.Errorf("expected 1 iteration, got %d", n)
	}
	for _, ev := range events {
		if ev.ConversationID != "c1" {
			t.Errorf("expected conversation id c1, got %q", ev.ConversationID)
		}
	}

	msgs, err := mgr.GetMessages(context.Background(), "c1", 0, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != conversation.RoleUser || msgs[1].Role != conversation.RoleAssistant {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if mgr.Current() != "c1" {
		t.Errorf("expected c1 to be current, got %q", mgr.Current())
	}

	req := gw.requests[0]
	if len(req.Messages) == 0 || req.Messages[0].Role != gateway.RoleSystem {
		t.Fatalf("expected system prompt first, got %+v", req.Messages)
	}
	if req.Temperature == nil || *req.Temperature != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", req.Temperature)
	}
	if req.MaxTokens == nil || *req.MaxTokens != 4000 {
		t.Errorf("expected max tokens 4000, got %v", req.MaxTokens)
	}
}

func TestProcessMessageStopsAtMaxIterations(t *testing.T) {
	echo := &countingTool{name: "echo"}
	gw := &scriptedGateway{fallback: callResponse(call("call_1", "echo", map[string]any{"n": 1}))}
	cfg := fullConfig()
	cfg.MaxIterations = 3
	cfg.LoopDetectionWindow = 0
	e, _ := newTestEngine(gw, cfg, echo)

	events := collect(t, e.ProcessMessage(context.Background(), "c1", "loop forever"))

	if gw.calls() != 3 {
		t.Errorf("expected 3 model calls, got %d", gw.calls())
	}
	if n := lastDone(t, events); n != 3 {
		t.Errorf("expected 3 iterations, got %d", n)
	}
	if echo.count.Load() != 3 {
		t.Errorf("expected 3 executions, got %d", echo.count.Load())
	}
	if len(ofKind(events, EventMessage)) != 0 {
		t.Error("expected no message event")
	}
}

func TestFullAutonomyExecutesWithoutApproval(t *testing.T) {
	del := &countingTool{name: "delete_file"}
	gw := &scriptedGateway{responses: []*gateway.Response{
		callResponse(call("call_1", "delete_file", map[string]any{"path": "/tmp/x"})),
		answer("Deleted."),
	}}
	e, mgr := newTestEngine(gw, fullConfig(), del)

	events := collect(t, e.ProcessMessage(context.Background(), "c1", "delete /tmp/x"))

	expectKinds(t, events,
		EventThinking, EventToolCall, EventToolResult,
		EventThinking, EventMessage, EventDone)
	if del.count.Load() != 1 {
		t.Errorf("expected tool to run once, got %d", del.count.Load())
	}
	if len(ofKind(events, EventApprovalRequired)) != 0 {
		t.Error("expected no approval_required event")
	}

	result := ofKind(events, EventToolResult)[0]
	if result.Data["success"] != true {
		t.Errorf("expected success, got %v", result.Data["success"])
	}
	if result.String("tool_call_id") != "call_1" || result.String("tool") != "delete_file" {
		t.Errorf("unexpected tool_result data: %v", result.Data)
	}

	msgs, _ := mgr.GetMessages(context.Background(), "c1", 0, true)
	// user, assistant(tool calls), tool, assistant
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d: %+v", len(msgs), msgs)
	}
	if len(msgs[1].ToolCalls) != 1 || msgs[1].ToolCalls[0].Function.Name != "delete_file" || msgs[1].Content != "" {
		t.Errorf("unexpected assistant tool call message: %+v", msgs[1])
	}
	if msgs[2].Role != conversation.RoleTool || msgs[2].ToolCallID != "call_1" {
		t.Errorf("unexpected tool message: %+v", msgs[2])
	}
}

func TestSemiAutonomyPausesAndRejects(t *testing.T) {
	del := &countingTool{name: "delete_file"}
	gw := &scriptedGateway{responses: []*gateway.Response{
		callResponse(call("call_1", "delete_file", map[string]any{"path": "/tmp/x"})),
		answer("Understood, I did not delete the file."),
	}}
	e, mgr := newTestEngine(gw, DefaultConfig(), del)
	ctx := context.Background()

	events := collect(t, e.ProcessMessage(ctx, "c1", "delete /tmp/x"))
	expectKinds(t, events, EventThinking, EventToolCall, EventApprovalRequired, EventDone)

	approval := events[2]
	if approval.String("tool") != "delete_file" || approval.String("tool_call_id") != "call_1" {
		t.Errorf("unexpected approval data: %v", approval.Data)
	}
	if approval.String("message") == "" {
		t.Error("expected approval message")
	}
	if _, ok := e.PendingApproval("c1"); !ok {
		t.Fatal("expected pending approval")
	}
	if del.count.Load() != 0 {
		t.Fatal("tool must not run before approval")
	}

	events = collect(t, e.ProcessApproval(ctx, "c1", false))
	expectKinds(t, events, EventToolResult, EventThinking, EventMessage, EventDone)

	if events[0].Data["success"] != false {
		t.Errorf("expected failed tool_result, got %v", events[0].Data)
	}
	if !strings.Contains(events[0].String("result"), "refused") {
		t.Errorf("expected refusal result, got %q", events[0].String("result"))
	}
	if _, ok := e.PendingApproval("c1"); ok {
		t.Error("expected pending approval to be cleared")
	}
	if del.count.Load() != 0 {
		t.Error("rejected tool must not run")
	}

	msgs, _ := mgr.GetMessages(ctx, "c1", 0, true)
	var refusal bool
	for _, m := range msgs {
		if m.Role == conversation.RoleTool && m.ToolCallID == "call_1" && strings.Contains(m.Content, "refused") {
			refusal = true
		}
	}
	if !refusal {
		t.Errorf("expected refusal tool message, got %+v", msgs)
	}
}

func TestSemiAutonomyApproveExecutes(t *testing.T) {
	del := &countingTool{name: "delete_file", result: map[string]any{"success": true, "deleted": "/tmp/x"}}
	gw := &scriptedGateway{responses: []*gateway.Response{
		callResponse(call("call_1", "delete_file", map[string]any{"path": "/tmp/x"})),
		answer("Deleted /tmp/x."),
	}}
	e, _ := newTestEngine(gw, DefaultConfig(), del)
	ctx := context.Background()

	collect(t, e.ProcessMessage(ctx, "c1", "delete /tmp/x"))
	events := collect(t, e.ProcessApproval(ctx, "c1", true))

	expectKinds(t, events, EventToolResult, EventThinking, EventMessage, EventDone)
	if del.count.Load() != 1 {
		t.Errorf("expected tool to run once, got %d", del.count.Load())
	}
	if events[0].Data["success"] != true {
		t.Errorf("expected success, got %v", events[0].Data)
	}
	// The approved result is fed back to the model.
	last := gw.requests[len(gw.requests)-1]
	tail := last.Messages[len(last.Messages)-1]
	if tail.Role != gateway.RoleTool || tail.ToolCallID != "call_1" {
		t.Errorf("expected tool result as last model input, got %+v", tail)
	}
}

func TestSupervisedRequiresApprovalForEveryTool(t *testing.T) {
	read := &countingTool{name: "read_file"}
	gw := &scriptedGateway{responses: []*gateway.Response{callResponse(call("call_1", "read_file", nil))}}
	cfg := DefaultConfig()
	cfg.AutonomyLevel = AutonomySupervised
	e, _ := newTestEngine(gw, cfg, read)

	events := collect(t, e.ProcessMessage(context.Background(), "c1", "read it"))
	if len(ofKind(events, EventApprovalRequired)) != 1 {
		t.Fatalf("expected approval_required, got %v", kinds(events))
	}
	if read.count.Load() != 0 {
		t.Error("tool must not run")
	}
}

func TestProcessApprovalWithoutPending(t *testing.T) {
	e, _ := newTestEngine(&scriptedGateway{}, DefaultConfig())

	events := collect(t, e.ProcessApproval(context.Background(), "c1", true))

	expectKinds(t, events, EventError, EventDone)
	if events[0].String("message") != "no actions pending approval" {
		t.Errorf("unexpected error message %q", events[0].String("message"))
	}
}

func TestPausedBatchSkipsRemainingCalls(t *testing.T) {
	del := &countingTool{name: "delete_file"}
	read := &countingTool{name: "read_file"}
	gw := &scriptedGateway{responses: []*gateway.Response{
		callResponse(
			call("call_1", "delete_file", nil),
			call("call_2", "read_file", nil),
		),
	}}
	e, mgr := newTestEngine(gw, DefaultConfig(), del, read)

	events := collect(t, e.ProcessMessage(context.Background(), "c1", "go"))

	expectKinds(t, events, EventThinking, EventToolCall, EventApprovalRequired, EventDone)
	if read.count.Load() != 0 {
		t.Error("calls after a paused call must not run")
	}

	msgs, _ := mgr.GetMessages(context.Background(), "c1", 0, true)
	last := msgs[len(msgs)-1]
	if last.Role != conversation.RoleTool || last.ToolCallID != "call_2" || !strings.HasPrefix(last.Content, "Error:") {
		t.Errorf("expected skipped result for call_2, got %+v", last)
	}
}

func TestNewMessageSupersedesPendingApproval(t *testing.T) {
	del := &countingTool{name: "delete_file"}
	gw := &scriptedGateway{responses: []*gateway.Response{
		callResponse(call("call_1", "delete_file", nil)),
		answer("Okay, never mind."),
	}}
	e, _ := newTestEngine(gw, DefaultConfig(), del)
	ctx := context.Background()

	collect(t, e.ProcessMessage(ctx, "c1", "delete it"))
	events := collect(t, e.ProcessMessage(ctx, "c1", "actually, don't"))

	expectKinds(t, events, EventToolResult, EventThinking, EventMessage, EventDone)
	if events[0].Data["success"] != false {
		t.Errorf("expected refusal, got %v", events[0].Data)
	}
	if _, ok := e.PendingApproval("c1"); ok {
		t.Error("expected pending approval to be cleared")
	}
}

func TestResumeWithoutMessageWhilePending(t *testing.T) {
	gw := &scriptedGateway{responses: []*gateway.Response{callResponse(call("call_1", "delete_file", nil))}}
	e, _ := newTestEngine(gw, DefaultConfig(), &countingTool{name: "delete_file"})
	ctx := context.Background()

	collect(t, e.ProcessMessage(ctx, "c1", "delete it"))
	events := collect(t, e.ProcessMessage(ctx, "c1", ""))

	expectKinds(t, events, EventError, EventDone)
	if gw.calls() != 1 {
		t.Errorf("expected no further model calls, got %d", gw.calls())
	}
}

func TestRecoveredCallWithReasoning(t *testing.T) {
	list := &countingTool{name: "list_directory"}
	gw := &scriptedGateway{responses: []*gateway.Response{
		answer(`I will list the files. {"name": "list_directory", "arguments": {"path": "/tmp"}}`),
		answer("There are two files."),
	}}
	e, mgr := newTestEngine(gw, fullConfig(), list)

	events := collect(t, e.ProcessMessage(context.Background(), "c1", "what is in /tmp?"))

	expectKinds(t, events,
		EventThinking, EventThinking, EventToolCall, EventToolResult,
		EventThinking, EventMessage, EventDone)
	if got := events[1].String("content"); got != "I will list the files." {
		t.Errorf("expected reasoning as thinking content, got %q", got)
	}
	if list.count.Load() != 1 {
		t.Errorf("expected recovered call to run, got %d", list.count.Load())
	}
	for _, ev := range ofKind(events, EventMessage) {
		if strings.Contains(ev.String("content"), "I will list the files") {
			t.Error("reasoning must never be a final message")
		}
	}
	args, _ := events[2].Data["arguments"].(map[string]any)
	if args["path"] != "/tmp" {
		t.Errorf("unexpected recovered arguments: %v", events[2].Data["arguments"])
	}
	if !strings.HasPrefix(events[2].String("tool_call_id"), "call_") {
		t.Errorf("expected generated call id, got %q", events[2].String("tool_call_id"))
	}

	msgs, _ := mgr.GetMessages(context.Background(), "c1", 0, true)
	if msgs[1].Content != "" || len(msgs[1].ToolCalls) != 1 {
		t.Errorf("expected assistant tool call message with empty content, got %+v", msgs[1])
	}
}

func TestThoughtTagIsUsedAsReasoning(t *testing.T) {
	gw := &scriptedGateway{responses: []*gateway.Response{
		answer(`<thought>Need the listing first</thought> {"name": "list_directory"}`),
	}}
	e, _ := newTestEngine(gw, fullConfig(), &countingTool{name: "list_directory"})

	events := collect(t, e.ProcessMessage(context.Background(), "c1", "list"))

	if got := events[1].String("content"); got != "Need the listing first" {
		t.Errorf("expected thought content, got %q", got)
	}
}

func TestNativeAndRecoveredCallsMerge(t *testing.T) {
	a := &countingTool{name: "a"}
	b := &countingTool{name: "b"}
	gw := &scriptedGateway{responses: []*gateway.Response{{
		Content:   `{"name": "b", "arguments": {}}`,
		ToolCalls: []gateway.ToolCall{call("call_native", "a", nil)},
	}}}
	e, _ := newTestEngine(gw, fullConfig(), a, b)

	events := collect(t, e.ProcessMessage(context.Background(), "c1", "both"))

	toolCalls := ofKind(events, EventToolCall)
	if len(toolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(toolCalls))
	}
	if toolCalls[0].String("tool") != "a" || toolCalls[1].String("tool") != "b" {
		t.Errorf("expected native call before recovered call, got %s then %s",
			toolCalls[0].String("tool"), toolCalls[1].String("tool"))
	}
}

func TestGatewayErrorIsFatal(t *testing.T) {
	gw := &scriptedGateway{errs: map[int]error{0: errors.New("connection refused")}}
	e, _ := newTestEngine(gw, DefaultConfig())

	events := collect(t, e.ProcessMessage(context.Background(), "c1", "hi"))

	expectKinds(t, events, EventThinking, EventError, EventDone)
	if events[1].String("message") != "error communicating with the model" {
		t.Errorf("unexpected error message %q", events[1].String("message"))
	}
	if events[1].String("error") != "connection refused" {
		t.Errorf("unexpected error text %q", events[1].String("error"))
	}
	if gw.calls() != 1 {
		t.Errorf("gateway errors must not be retried by the engine, got %d calls", gw.calls())
	}
}

func TestToolErrorIsRecovered(t *testing.T) {
	broken := &countingTool{name: "broken", err: errors.New("boom")}
	gw := &scriptedGateway{responses: []*gateway.Response{
		callResponse(call("call_1", "broken", nil)),
		answer("The tool failed."),
	}}
	e, mgr := newTestEngine(gw, fullConfig(), broken)

	events := collect(t, e.ProcessMessage(context.Background(), "c1", "try"))

	result := ofKind(events, EventToolResult)[0]
	if result.Data["success"] != false || result.String("error") != "boom" {
		t.Errorf("unexpected tool_result: %v", result.Data)
	}
	if len(ofKind(events, EventMessage)) != 1 {
		t.Error("expected the loop to continue to a final message")
	}
	msgs, _ := mgr.GetMessages(context.Background(), "c1", 0, true)
	if msgs[2].Content != "Error: boom" {
		t.Errorf("expected error tool message, got %q", msgs[2].Content)
	}
}

func TestUnknownToolIsRecovered(t *testing.T) {
	gw := &scriptedGateway{responses: []*gateway.Response{
		callResponse(call("call_1", "list_ec2_instances", nil)),
		answer("That tool does not exist."),
	}}
	e, _ := newTestEngine(gw, fullConfig())

	events := collect(t, e.ProcessMessage(context.Background(), "c1", "list"))

	result := ofKind(events, EventToolResult)[0]
	if result.Data["success"] != false || !strings.Contains(result.String("error"), "tool not found") {
		t.Errorf("unexpected tool_result: %v", result.Data)
	}
	if lastDone(t, events) != 2 {
		t.Errorf("expected 2 iterations")
	}
}

func TestToolResultSuccessFlag(t *testing.T) {
	cmd := &countingTool{name: "run", result: map[string]any{"success": false, "stderr": "nope"}}
	gw := &scriptedGateway{responses: []*gateway.Response{callResponse(call("call_1", "run", nil))}}
	e, _ := newTestEngine(gw, fullConfig(), cmd)

	events := collect(t, e.ProcessMessage(context.Background(), "c1", "run"))

	if ofKind(events, EventToolResult)[0].Data["success"] != false {
		t.Error("expected success flag from the result map")
	}
}

func TestHallucinatedAnswerIsDropped(t *testing.T) {
	gw := &scriptedGateway{responses: []*gateway.Response{
		answer(`{"instances": [{"id": "i-123", "state": "running"}]}`),
	}}
	e, mgr := newTestEngine(gw, DefaultConfig())

	events := collect(t, e.ProcessMessage(context.Background(), "c1", "list instances"))

	expectKinds(t, events, EventThinking, EventDone)
	msgs, _ := mgr.GetMessages(context.Background(), "c1", 0, true)
	if len(msgs) != 1 {
		t.Errorf("expected only the user message, got %+v", msgs)
	}
}

func TestLongToolResultIsTruncatedInConversation(t *testing.T) {
	big := strings.Repeat("x", 500)
	tool := &countingTool{name: "big", result: map[string]any{"output": big}}
	gw := &scriptedGateway{responses: []*gateway.Response{callResponse(call("call_1", "big", nil))}}
	cfg := fullConfig()
	cfg.MaxToolResultChars = 100
	e, mgr := newTestEngine(gw, cfg, tool)

	events := collect(t, e.ProcessMessage(context.Background(), "c1", "go"))

	result := ofKind(events, EventToolResult)[0].Data["result"].(map[string]any)
	if result["output"] != big {
		t.Error("the event must carry the full result")
	}
	msgs, _ := mgr.GetMessages(context.Background(), "c1", 0, true)
	if !strings.Contains(msgs[2].Content, "truncated") || len(msgs[2].Content) > 400 {
		t.Errorf("expected truncated tool message, got %d chars", len(msgs[2].Content))
	}
}

func TestLoopDetectionEmitsThinking(t *testing.T) {
	gw := &scriptedGateway{fallback: callResponse(call("call_1", "echo", map[string]any{"q": "same"}))}
	cfg := fullConfig()
	cfg.MaxIterations = 4
	cfg.LoopDetectionWindow = 3
	e, _ := newTestEngine(gw, cfg, &countingTool{name: "echo"})

	events := collect(t, e.ProcessMessage(context.Background(), "c1", "go"))

	var warned int
	for _, ev := range ofKind(events, EventThinking) {
		if strings.Contains(ev.String("content"), "repeating pattern") {
			warned++
		}
	}
	if warned != 1 {
		t.Errorf("expected one loop warning, got %d", warned)
	}
}

func TestToolProtocolOnlyForTextBackends(t *testing.T) {
	for _, supported := range []bool{true, false} {
		gw := nativeGateway{scriptedGateway: &scriptedGateway{}, supported: supported}
		e, _ := newTestEngine(gw, DefaultConfig(), &countingTool{name: "echo"})
		e.prompt.ToolProtocol = true

		collect(t, e.ProcessMessage(context.Background(), "c1", "hi"))

		system := gw.requests[0].Messages[0].Content
		hasProtocol := strings.Contains(system, `{"name": "<tool name>"`)
		if hasProtocol == supported {
			t.Errorf("native=%v: unexpected tool protocol presence %v", supported, hasProtocol)
		}
	}
}

// blockingGateway waits for cancellation.
type blockingGateway struct {
	started chan struct{}
}

func (g *blockingGateway) Complete(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	close(g.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCancellationStopsRun(t *testing.T) {
	gw := &blockingGateway{started: make(chan struct{})}
	e, _ := newTestEngine(gw, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	ch := e.ProcessMessage(ctx, "c1", "hi")
	<-gw.started
	cancel()

	select {
	case <-drain(ch):
	case <-time.After(5 * time.Second):
		t.Fatal("expected the event channel to close after cancellation")
	}
}

func drain(ch <-chan Event) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	return done
}

func TestConversationsRunConcurrently(t *testing.T) {
	gw := &scriptedGateway{fallback: answer("ok")}
	e, mgr := newTestEngine(gw, DefaultConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for range e.ProcessMessage(ctx, id, "hello "+id) {
			}
		}(id)
	}
	wg.Wait()

	for _, id := range []string{"a", "b", "c"} {
		msgs, err := mgr.GetMessages(ctx, id, 0, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(msgs) != 2 || msgs[0].Content != "hello "+id {
			t.Errorf("conversation %s: unexpected messages %+v", id, msgs)
		}
	}
}

func TestEmptyConversationIDUsesCurrent(t *testing.T) {
	gw := &scriptedGateway{fallback: answer("ok")}
	e, mgr := newTestEngine(gw, DefaultConfig())
	ctx := context.Background()

	first := collect(t, e.ProcessMessage(ctx, "", "hello"))
	id := first[0].ConversationID
	if id == "" || mgr.Current() != id {
		t.Fatalf("expected a new current conversation, got %q / %q", id, mgr.Current())
	}

	second := collect(t, e.ProcessMessage(ctx, "", "again"))
	if second[0].ConversationID != id {
		t.Errorf("expected current conversation %q, got %q", id, second[0].ConversationID)
	}
}

func TestSetConfigAppliesToLaterRuns(t *testing.T) {
	e, _ := newTestEngine(&scriptedGateway{}, DefaultConfig())

	cfg := e.Config()
	cfg.ApprovalRequiredNames[0] = "mutated"
	if e.Config().ApprovalRequiredNames[0] == "mutated" {
		t.Fatal("Config must return a copy")
	}

	cfg.MaxIterations = 0
	cfg.AutonomyLevel = AutonomyFull
	e.SetConfig(cfg)
	got := e.Config()
	if got.AutonomyLevel != AutonomyFull {
		t.Errorf("expected full autonomy, got %s", got.AutonomyLevel)
	}
	if got.MaxIterations != 10 {
		t.Errorf("expected zero max iterations to fall back to 10, got %d", got.MaxIterations)
	}
}

// streamGateway replays the scripted responses as streams.
type streamGateway struct {
	*scriptedGateway
	streams atomic.Int32
}

func (g *streamGateway) Stream(ctx context.Context, req gateway.Request) (<-chan gateway.StreamEvent, error) {
	g.streams.Add(1)
	resp, err := g.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan gateway.StreamEvent, len(resp.ToolCalls)+2)
	ch <- gateway.StreamEvent{Type: gateway.TextDelta, Delta: resp.Content}
	for i := range resp.ToolCalls {
		ch <- gateway.StreamEvent{Type: gateway.ToolCallEnd, ToolCall: &resp.ToolCalls[i]}
	}
	ch <- gateway.StreamEvent{Type: gateway.StreamFinish, FinishReason: resp.FinishReason}
	close(ch)
	return ch, nil
}

func TestStreamingGatewayIsUsedWhenEnabled(t *testing.T) {
	echo := &countingTool{name: "echo"}
	gw := &streamGateway{scriptedGateway: &scriptedGateway{responses: []*gateway.Response{
		callResponse(call("call_1", "echo", nil)),
		answer("streamed answer"),
	}}}
	cfg := fullConfig()
	cfg.Stream = true
	e, _ := newTestEngine(gw, cfg, echo)

	events := collect(t, e.ProcessMessage(context.Background(), "c1", "hi"))

	if got := gw.streams.Load(); got != 2 {
		t.Errorf("expected 2 streamed calls, got %d", got)
	}
	if echo.count.Load() != 1 {
		t.Errorf("expected the streamed tool call to run once, got %d", echo.count.Load())
	}
	msgs := ofKind(events, EventMessage)
	if len(msgs) != 1 || msgs[0].String("content") != "streamed answer" {
		t.Errorf("unexpected message events %v", msgs)
	}

	gw.streams.Store(0)
	cfg.Stream = false
	e.SetConfig(cfg)
	collect(t, e.ProcessMessage(context.Background(), "c2", "hi"))
	if got := gw.streams.Load(); got != 0 {
		t.Errorf("expected blocking calls with streaming off, got %d streams", got)
	}
}

func TestRunWaitsForSlowConsumer(t *testing.T) {
	echo := &countingTool{name: "echo"}
	gw := &scriptedGateway{fallback: callResponse(call("call_1", "echo", nil))}
	e, _ := newTestEngine(gw, fullConfig(), echo)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := e.ProcessMessage(ctx, "c1", "hi")
	if ev := <-ch; ev.Kind != EventThinking {
		t.Fatalf("expected thinking first, got %s", ev.Kind)
	}

	// The consumer stops reading; the run must not act ahead of it.
	time.Sleep(100 * time.Millisecond)
	if n := echo.count.Load(); n != 0 {
		t.Errorf("expected no tool execution while the consumer is idle, got %d", n)
	}
	if n := gw.calls(); n > 1 {
		t.Errorf("expected at most one model call while the consumer is idle, got %d", n)
	}

	cancel()
	select {
	case <-drain(ch):
	case <-time.After(5 * time.Second):
		t.Fatal("expected the event channel to close after cancellation")
	}
}
