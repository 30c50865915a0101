package agent

import (
	"context"
	"errors"
	"testing"
)

func echoTool(name string) ToolFunc {
	return ToolFunc{
		Def: ToolDefinition{Name: name, Description: "echoes its arguments"},
		Fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return args, nil
		},
	}
}

func TestToolRegistry(t *testing.T) {
	r := NewToolRegistry(echoTool("zeta"), echoTool("alpha"))
	r.Register(echoTool("mid"))

	if r.Count() != 3 {
		t.Fatalf("expected 3 tools, got %d", r.Count())
	}
	names := r.Names()
	if names[0] != "alpha" || names[1] != "mid" || names[2] != "zeta" {
		t.Errorf("expected sorted names, got %v", names)
	}
	if _, ok := r.Get("mid"); !ok {
		t.Error("expected mid to be registered")
	}

	r.Register(echoTool("mid"))
	if r.Count() != 3 {
		t.Errorf("re-registering must replace, got %d tools", r.Count())
	}
}

func TestToolRegistryExecute(t *testing.T) {
	r := NewToolRegistry(echoTool("echo"))

	out, err := r.Execute(context.Background(), "echo", map[string]any{"x": "y"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["x"] != "y" {
		t.Errorf("unexpected result %v", out)
	}

	out, err = r.Execute(context.Background(), "echo", nil)
	if err != nil || out == nil {
		t.Errorf("nil arguments must become an empty map, got %v, %v", out, err)
	}

	if _, err := r.Execute(context.Background(), "missing", nil); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("expected ErrToolNotFound, got %v", err)
	}
}
