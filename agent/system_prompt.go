package agent

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// DefaultBasePrompt is the instruction block used when no system prompt is
// configured.
const DefaultBasePrompt = `You are an autonomous assistant that solves technical tasks by planning and acting.

## Work cycle: Plan & Act
1. ANALYZE: understand the request.
2. PLAN: decide the steps and the tools they need.
3. ACT: call the appropriate tool. Never invent tool results.
4. VERIFY: read the real tool output.
5. ANSWER: conclude from real data.

## Rules
- Only use the tools you were given. Never invent tool names.
- Never write a tool's result yourself. The system inserts real results.
- If the user only wants information or conversation, answer in text without tools.
- If a tool returns an error, read it, fix the call and try again before giving up.
- Some tools need the user's approval. If the user refuses, explain what you could not do.`

// toolProtocol tells text-only models how to request a tool.
const toolProtocol = `## Calling tools
When you need a tool, write one JSON object per call on its own line:
{"name": "<tool name>", "arguments": {<arguments>}}
Write nothing after the tool calls. You may put your reasoning before them inside <thought></thought>.`

// PromptBuilder assembles the system prompt sent on every iteration.
type PromptBuilder struct {
	Base       string
	WorkingDir string
	Platform   string
	Arch       string
	GitBranch  string

	// ToolProtocol appends the JSON tool-call format and the tool list when
	// the backend has no structured tool calling.
	ToolProtocol bool
}

// NewPromptBuilder creates a builder describing the local environment.
func NewPromptBuilder(workingDir string) *PromptBuilder {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	return &PromptBuilder{
		Base:         DefaultBasePrompt,
		WorkingDir:   workingDir,
		Platform:     runtime.GOOS,
		Arch:         runtime.GOARCH,
		GitBranch:    gitBranch(workingDir),
		ToolProtocol: true,
	}
}

// Build returns the system prompt for a run. A configured SystemPrompt
// replaces the base instructions. The environment block is always appended.
func (b *PromptBuilder) Build(cfg Config, tools []ToolDefinition, nativeTools bool) string {
	base := b.Base
	if cfg.SystemPrompt != "" {
		base = cfg.SystemPrompt
	}

	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n\n")
	sb.WriteString(b.environmentContext(cfg.Model))

	if b.ToolProtocol && !nativeTools && len(tools) > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(toolProtocol)
		sb.WriteString("\n\nAvailable tools:\n")
		for _, t := range tools {
			fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *PromptBuilder) environmentContext(model string) string {
	var sb strings.Builder
	sb.WriteString("<environment>\n")
	if b.WorkingDir != "" {
		fmt.Fprintf(&sb, "Working directory: %s\n", b.WorkingDir)
	}
	if b.GitBranch != "" {
		fmt.Fprintf(&sb, "Git branch: %s\n", b.GitBranch)
	}
	fmt.Fprintf(&sb, "Platform: %s\n", b.Platform)
	if b.Arch != "" {
		fmt.Fprintf(&sb, "Architecture: %s\n", b.Arch)
	}
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

func gitBranch(dir string) string {
	if dir == "" {
		return ""
	}
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
