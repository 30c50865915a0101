// Package agent implements the Plan & Act control loop.
//
// An Engine alternates model inference and tool execution for a single
// conversation until the model produces a final answer, the iteration budget
// runs out, or a sensitive tool call needs human approval. Each run reports
// its progress on a channel of typed events.
//
// # Architecture
//
//   - Engine: the iteration state machine. It assembles model input from a
//     conversation store, calls the model gateway, dispatches tool calls and
//     records their results.
//   - RecoverToolCalls: reconstructs tool calls that a model wrote into its
//     text output instead of using structured tool calling.
//   - HallucinationFilter: clears assistant text that pretends to already
//     contain tool output.
//   - ApprovalGate: decides, per tool name and autonomy level, whether a call
//     must wait for a human, and holds at most one pending call per
//     conversation.
//   - ToolRegistry: registration and lookup of executable tools.
//
// # Quick Start
//
//	engine := agent.NewEngine(client, manager, registry,
//		agent.WithConfig(agent.DefaultConfig()),
//		agent.WithLogger(logger),
//	)
//
//	for event := range engine.ProcessMessage(ctx, "conv-1", "List the files in /tmp") {
//		fmt.Printf("[%s] %v\n", event.Kind, event.Data)
//	}
//
// When an approval_required event arrives the run stops. The caller resumes
// it with ProcessApproval once the user has answered.
package agent
