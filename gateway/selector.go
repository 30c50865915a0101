package gateway

import (
	"context"
	"sync"
)

// Selection names the backend a Selector currently routes to.
type Selection struct {
	Provider ProviderType `json:"provider"`
	Model    string       `json:"model"`
}

// Selector swaps the default provider of a Client at runtime. It remembers
// the configuration last used for each provider type, so switching back
// keeps earlier base URLs and keys.
type Selector struct {
	client *Client

	mu      sync.Mutex
	current ProviderConfig
	configs map[ProviderType]ProviderConfig
}

// NewSelector creates a selector for a client whose default provider was
// built from current.
func NewSelector(client *Client, current ProviderConfig) *Selector {
	return &Selector{
		client:  client,
		current: current,
		configs: map[ProviderType]ProviderConfig{current.Type: current},
	}
}

// Current returns the active provider type and model.
func (s *Selector) Current() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, model := s.client.Defaults()
	return Selection{Provider: s.current.Type, Model: model}
}

// Switch builds a provider of type t and makes it the client default. An
// empty model keeps the current model when t is unchanged and otherwise
// takes the catalog default; an empty apiKey reuses the key last given for
// t. On error the previous selection stays active.
func (s *Selector) Switch(t ProviderType, model, apiKey string) (Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, known := s.configs[t]
	if !known {
		cfg = ProviderConfig{Type: t, HTTPClient: s.current.HTTPClient}
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	switch {
	case model != "":
		cfg.Model = model
	case t != s.current.Type || cfg.Model == "":
		if d := DefaultModel(string(t)); d != "" {
			cfg.Model = d
		}
	}

	p, err := NewProvider(cfg)
	if err != nil {
		return Selection{}, err
	}
	s.client.RegisterProvider(p.Name(), p)
	if err := s.client.SetDefault(p.Name(), cfg.Model); err != nil {
		return Selection{}, err
	}
	s.configs[t] = cfg
	s.current = cfg
	return Selection{Provider: t, Model: cfg.Model}, nil
}

// Models lists the models of the active provider. Providers that can ask
// their backend do so; the rest answer from the catalog.
func (s *Selector) Models(ctx context.Context) ([]ModelInfo, error) {
	s.mu.Lock()
	t := s.current.Type
	s.mu.Unlock()

	name, _ := s.client.Defaults()
	p, err := s.client.resolveProvider(Request{Provider: name})
	if err != nil {
		return nil, err
	}
	if lister, ok := p.(ModelLister); ok {
		return lister.ListModels(ctx)
	}
	return ListModels(string(t)), nil
}
