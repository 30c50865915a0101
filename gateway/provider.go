package gateway

import "context"

// Provider is the interface every model backend implements.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic", "ollama").
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream sends a request and returns a channel of stream events.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Closer is implemented by providers that hold resources.
type Closer interface {
	Close() error
}

// NativeToolCaller is implemented by providers whose wire protocol carries
// structured tool calls. Providers that only return text rely on the caller
// to recover calls from the text.
type NativeToolCaller interface {
	SupportsNativeTools() bool
}

// ModelLister is implemented by providers that can enumerate the models
// their backend serves.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}
