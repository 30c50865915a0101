// Package gateway provides the model gateway: a provider-agnostic client that
// routes chat requests to OpenAI, Anthropic, DeepSeek, Ollama or any gollm
// backend and returns a normalized Response.
//
// # Architecture
//
//   - Provider: the interface each backend implements (Complete, Stream).
//   - Client: routes by provider name and wraps calls in middleware
//     (retry with exponential backoff, slog request logging).
//   - NewProvider: builds a Provider from a ProviderConfig keyed by
//     ProviderType.
//   - Errors: a typed hierarchy (AuthenticationError, RateLimitError, ...)
//     with IsRetryable classification.
//
// # Quick Start
//
//	p, err := gateway.NewProvider(gateway.ProviderConfig{
//	    Type:  gateway.ProviderTypeOllama,
//	    Model: "llama3.2:latest",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := gateway.NewClient(
//	    gateway.WithProvider(p.Name(), p),
//	    gateway.WithMiddleware(gateway.RetryMiddleware(gateway.DefaultRetryPolicy())),
//	)
//
//	resp, _ := client.Complete(ctx, gateway.Request{
//	    Messages: []gateway.Message{gateway.UserMessage("Hello")},
//	})
//	fmt.Println(resp.Content)
//
// # Tool Calls
//
// Providers with a native tool protocol return Response.ToolCalls. Text-only
// backends (gollm, Ollama models without tool support) leave any calls inside
// Response.Content; the agent package recovers them from the text.
package gateway
