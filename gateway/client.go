package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Middleware wraps a provider call. It receives the request and a next function
// that calls the downstream handler, and returns the response.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

// StreamMiddleware wraps a streaming provider call.
type StreamMiddleware func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error)

// Client routes requests to registered providers and applies middleware.
// It satisfies the engine's model gateway contract.
type Client struct {
	providers       map[string]Provider
	defaultProvider string
	defaultModel    string
	middleware      []Middleware
	streamMW        []StreamMiddleware
	mu              sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers a provider under name.
func WithProvider(name string, p Provider) ClientOption {
	return func(c *Client) {
		c.providers[name] = p
	}
}

// WithDefaultProvider sets the default provider name.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithDefaultModel sets the model used when a request names none.
func WithDefaultModel(model string) ClientOption {
	return func(c *Client) {
		c.defaultModel = model
	}
}

// WithMiddleware adds middleware to the client.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithStreamMiddleware adds stream middleware to the client.
func WithStreamMiddleware(mw ...StreamMiddleware) ClientOption {
	return func(c *Client) {
		c.streamMW = append(c.streamMW, mw...)
	}
}

// NewClient creates a new Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers: make(map[string]Provider),
	}
	for _, opt := range opts {
		opt(c)
	}
	// A lone provider becomes the default.
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds a provider to the client.
func (c *Client) RegisterProvider(name string, p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = p
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

// SetDefault makes a registered provider and model the defaults for
// requests that name neither.
func (c *Client) SetDefault(provider, model string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.providers[provider]; !ok {
		return &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("provider %q is not registered", provider),
		}}
	}
	c.defaultProvider = provider
	c.defaultModel = model
	return nil
}

// Defaults returns the default provider name and model.
func (c *Client) Defaults() (provider, model string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultProvider, c.defaultModel
}

// Providers returns the registered provider names, sorted.
func (c *Client) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.providers))
	for name := range c.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Client) resolveProvider(req Request) (Provider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		if info := GetModelInfo(req.Model); info != nil {
			name = info.Provider
		}
	}
	if name == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "no provider specified and no default provider configured",
		}}
	}

	p, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return p, nil
}

func (c *Client) prepare(req Request) (Provider, Request, error) {
	p, err := c.resolveProvider(req)
	if err != nil {
		return nil, req, err
	}
	if req.Provider == "" {
		req.Provider = p.Name()
	}
	if req.Model == "" {
		_, req.Model = c.Defaults()
	}
	return p, req, nil
}

// SupportsNativeTools reports whether the default provider accepts
// structured tool definitions. Providers that do not say are assumed to.
func (c *Client) SupportsNativeTools() bool {
	_, model := c.Defaults()
	p, err := c.resolveProvider(Request{Model: model})
	if err != nil {
		return false
	}
	if nt, ok := p.(NativeToolCaller); ok {
		return nt.SupportsNativeTools()
	}
	return true
}

// Complete sends a blocking request through middleware to the resolved provider.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	p, req, err := c.prepare(req)
	if err != nil {
		return nil, err
	}

	handler := func(ctx context.Context, r Request) (*Response, error) {
		return p.Complete(ctx, r)
	}

	// Reverse order so the first registered middleware runs first.
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i]
		next := handler
		handler = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}

	return handler(ctx, req)
}

// Stream sends a streaming request through middleware to the resolved provider.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	p, req, err := c.prepare(req)
	if err != nil {
		return nil, err
	}

	handler := func(ctx context.Context, r Request) (<-chan StreamEvent, error) {
		return p.Stream(ctx, r)
	}

	for i := len(c.streamMW) - 1; i >= 0; i-- {
		mw := c.streamMW[i]
		next := handler
		handler = func(ctx context.Context, r Request) (<-chan StreamEvent, error) {
			return mw(ctx, r, next)
		}
	}

	return handler(ctx, req)
}

// Close releases resources held by all registered providers.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var firstErr error
	for _, p := range c.providers {
		if closer, ok := p.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
