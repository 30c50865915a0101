package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/martinemde/planact/agent"
)

// DefaultCommandTimeout bounds execute_command when neither the caller nor
// the model supplies a timeout.
const DefaultCommandTimeout = 30 * time.Second

// BlockedCommands are substrings that make execute_command refuse to run.
var BlockedCommands = []string{
	"rm -rf /",
	"mkfs",
	"dd if=/dev/zero",
	":(){ :|:& };:",
	"chmod -R 777 /",
}

// interpreters maps script extensions to the program that runs them.
var interpreters = map[string]string{
	".py": "python3",
	".sh": "bash",
	".js": "node",
	".rb": "ruby",
	".pl": "perl",
}

// Options configures the built-in tools.
type Options struct {
	CommandTimeout  time.Duration
	DisableCommands bool
	Blocked         []string
}

func (o Options) withDefaults() Options {
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.Blocked == nil {
		o.Blocked = BlockedCommands
	}
	return o
}

// Builtins returns the file and command tools backed by env.
func Builtins(env Environment, opts Options) []agent.Tool {
	opts = opts.withDefaults()
	tools := []agent.Tool{
		readFileTool(env),
		writeFileTool(env),
		listDirectoryTool(env),
		searchFilesTool(env),
		deleteFileTool(env),
		getFileInfoTool(env),
	}
	if !opts.DisableCommands {
		tools = append(tools, executeCommandTool(env, opts), runScriptTool(env, opts))
	}
	return tools
}

// RegisterBuiltins registers the built-in tools into reg.
func RegisterBuiltins(reg *agent.ToolRegistry, env Environment, opts Options) {
	for _, t := range Builtins(env, opts) {
		reg.Register(t)
	}
}

func failure(format string, args ...any) map[string]any {
	return map[string]any{"success": false, "error": fmt.Sprintf(format, args...)}
}

// newTool builds a tool whose arguments decode into A.
func newTool[A any](name, description string, run func(ctx context.Context, args A) (map[string]any, error)) agent.Tool {
	return agent.ToolFunc{
		Def: agent.ToolDefinition{
			Name:        name,
			Description: description,
			Parameters:  schemaFor[A](),
		},
		Fn: func(ctx context.Context, raw map[string]any) (map[string]any, error) {
			args, err := decodeArgs[A](raw)
			if err != nil {
				return failure("%s: %v", name, err), nil
			}
			return run(ctx, args)
		},
	}
}

type pathArgs struct {
	Path string `json:"path" jsonschema:"description=Absolute or relative path"`
}

type readFileArgs struct {
	Path   string `json:"path" jsonschema:"description=Path of the file to read"`
	Offset int    `json:"offset,omitempty" jsonschema:"description=1-based line to start reading from"`
	Limit  int    `json:"limit,omitempty" jsonschema:"description=Maximum number of lines to return"`
}

func readFileTool(env Environment) agent.Tool {
	return newTool("read_file", "Read the contents of a text file.",
		func(_ context.Context, args readFileArgs) (map[string]any, error) {
			if args.Path == "" {
				return failure("path is required"), nil
			}
			content, err := env.ReadFile(args.Path)
			if err != nil {
				return failure("read %s: %v", args.Path, err), nil
			}
			total := len(strings.Split(content, "\n"))
			if args.Offset > 0 || args.Limit > 0 {
				content = sliceLines(content, args.Offset, args.Limit)
			}
			return map[string]any{
				"success": true,
				"path":    env.Resolve(args.Path),
				"content": content,
				"size":    len(content),
				"lines":   total,
			}, nil
		})
}

// sliceLines returns limit lines starting at the 1-based offset.
func sliceLines(content string, offset, limit int) string {
	lines := strings.Split(content, "\n")
	start := 0
	if offset > 0 {
		start = offset - 1
	}
	if start >= len(lines) {
		return ""
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return strings.Join(lines[start:end], "\n")
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"description=Path of the file to create or overwrite"`
	Content string `json:"content" jsonschema:"description=Content to write"`
}

func writeFileTool(env Environment) agent.Tool {
	return newTool("write_file", "Create or overwrite a file. Parent directories are created as needed.",
		func(_ context.Context, args writeFileArgs) (map[string]any, error) {
			if args.Path == "" {
				return failure("path is required"), nil
			}
			created, err := env.WriteFile(args.Path, args.Content)
			if err != nil {
				return failure("write %s: %v", args.Path, err), nil
			}
			msg := "file updated"
			if created {
				msg = "file created"
			}
			return map[string]any{
				"success": true,
				"path":    env.Resolve(args.Path),
				"size":    len(args.Content),
				"created": created,
				"message": msg,
			}, nil
		})
}

type listDirectoryArgs struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory to list (defaults to the working directory)"`
}

func listDirectoryTool(env Environment) agent.Tool {
	return newTool("list_directory", "List the files and directories in a directory.",
		func(_ context.Context, args listDirectoryArgs) (map[string]any, error) {
			entries, err := env.ListDirectory(args.Path)
			if err != nil {
				return failure("list %s: %v", displayPath(args.Path), err), nil
			}
			items := make([]map[string]any, 0, len(entries))
			var files, dirs int
			for _, e := range entries {
				kind := "file"
				if e.IsDir {
					kind = "directory"
					dirs++
				} else {
					files++
				}
				items = append(items, map[string]any{"name": e.Name, "type": kind, "path": e.Path, "size": e.Size})
			}
			return map[string]any{
				"success":     true,
				"path":        env.Resolve(args.Path),
				"items":       items,
				"total":       len(items),
				"files":       files,
				"directories": dirs,
			}, nil
		})
}

type searchFilesArgs struct {
	Pattern string `json:"pattern" jsonschema:"description=Glob pattern such as *.go or **/*_test.go"`
	Path    string `json:"path,omitempty" jsonschema:"description=Directory to search (defaults to the working directory)"`
}

func searchFilesTool(env Environment) agent.Tool {
	return newTool("search_files", "Find files by glob pattern. ** matches across directories.",
		func(_ context.Context, args searchFilesArgs) (map[string]any, error) {
			if args.Pattern == "" {
				return failure("pattern is required"), nil
			}
			matches, err := env.Glob(args.Pattern, args.Path)
			if err != nil {
				return failure("search %s: %v", displayPath(args.Path), err), nil
			}
			files := make([]map[string]any, 0, len(matches))
			for _, m := range matches {
				files = append(files, map[string]any{"name": m.Name, "path": m.Path, "size": m.Size})
			}
			return map[string]any{
				"success":     true,
				"pattern":     args.Pattern,
				"search_path": env.Resolve(args.Path),
				"files":       files,
				"total":       len(files),
			}, nil
		})
}

func deleteFileTool(env Environment) agent.Tool {
	return newTool("delete_file", "Delete a file or a directory tree. Destructive.",
		func(_ context.Context, args pathArgs) (map[string]any, error) {
			if args.Path == "" {
				return failure("path is required"), nil
			}
			isDir, err := env.Delete(args.Path)
			if err != nil {
				return failure("delete %s: %v", args.Path, err), nil
			}
			kind, msg := "file", "file deleted"
			if isDir {
				kind, msg = "directory", "directory deleted"
			}
			return map[string]any{
				"success": true,
				"path":    env.Resolve(args.Path),
				"type":    kind,
				"message": msg,
			}, nil
		})
}

func getFileInfoTool(env Environment) agent.Tool {
	return newTool("get_file_info", "Show size, modification time and permissions of a path.",
		func(_ context.Context, args pathArgs) (map[string]any, error) {
			if args.Path == "" {
				return failure("path is required"), nil
			}
			info, err := env.Stat(args.Path)
			if err != nil {
				return failure("stat %s: %v", args.Path, err), nil
			}
			kind := "file"
			if info.IsDir {
				kind = "directory"
			}
			return map[string]any{
				"success":       true,
				"path":          info.Path,
				"name":          info.Name,
				"type":          kind,
				"size":          info.Size,
				"modified":      info.ModTime.UTC().Format(time.RFC3339),
				"permissions":   fmt.Sprintf("%03o", info.Mode.Perm()),
				"is_readable":   info.Readable,
				"is_writable":   info.Writable,
				"is_executable": info.Executable,
			}, nil
		})
}

type executeCommandArgs struct {
	Command string `json:"command" jsonschema:"description=Shell command to run"`
	Cwd     string `json:"cwd,omitempty" jsonschema:"description=Working directory"`
	Timeout int    `json:"timeout,omitempty" jsonschema:"description=Timeout in seconds"`
}

func executeCommandTool(env Environment, opts Options) agent.Tool {
	return newTool("execute_command", "Run a shell command and capture its output. Potentially dangerous.",
		func(ctx context.Context, args executeCommandArgs) (map[string]any, error) {
			if strings.TrimSpace(args.Command) == "" {
				return failure("command is required"), nil
			}
			for _, blocked := range opts.Blocked {
				if strings.Contains(args.Command, blocked) {
					r := failure("command blocked for safety: %s", blocked)
					r["blocked"] = true
					return r, nil
				}
			}
			cwd := env.WorkingDirectory()
			if args.Cwd != "" {
				info, err := env.Stat(args.Cwd)
				if err != nil || !info.IsDir {
					return failure("directory not found: %s", args.Cwd), nil
				}
				cwd = info.Path
			}
			timeout := opts.CommandTimeout
			if args.Timeout > 0 {
				timeout = time.Duration(args.Timeout) * time.Second
			}

			res, err := env.ExecCommand(ctx, args.Command, timeout, cwd)
			if err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				return failure("execute command: %v", err), nil
			}
			if res.TimedOut {
				r := failure("command exceeded timeout of %s", timeout)
				r["timeout"] = true
				r["stdout"] = res.Stdout
				r["stderr"] = res.Stderr
				return r, nil
			}
			return map[string]any{
				"success":    res.ExitCode == 0,
				"command":    args.Command,
				"returncode": res.ExitCode,
				"stdout":     res.Stdout,
				"stderr":     res.Stderr,
				"cwd":        cwd,
			}, nil
		})
}

type runScriptArgs struct {
	ScriptPath  string   `json:"script_path" jsonschema:"description=Path of the script to run"`
	Args        []string `json:"args,omitempty" jsonschema:"description=Arguments passed to the script"`
	Interpreter string   `json:"interpreter,omitempty" jsonschema:"description=Interpreter to use; detected from the extension when empty"`
}

func runScriptTool(env Environment, opts Options) agent.Tool {
	return newTool("run_script", "Run a script file (Python, Bash, Node.js, Ruby or Perl).",
		func(ctx context.Context, args runScriptArgs) (map[string]any, error) {
			if args.ScriptPath == "" {
				return failure("script_path is required"), nil
			}
			info, err := env.Stat(args.ScriptPath)
			if err != nil || info.IsDir {
				return failure("script not found: %s", args.ScriptPath), nil
			}
			interp := args.Interpreter
			if interp == "" {
				interp = interpreters[strings.ToLower(filepath.Ext(info.Path))]
			}
			if interp == "" {
				interp = "bash"
			}

			argv := append([]string{interp, info.Path}, args.Args...)
			res, err := env.ExecArgs(ctx, argv, opts.CommandTimeout, "")
			if err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				return failure("run script: %v", err), nil
			}
			scriptArgs := args.Args
			if scriptArgs == nil {
				scriptArgs = []string{}
			}
			return map[string]any{
				"success":     res.ExitCode == 0 && !res.TimedOut,
				"script":      info.Path,
				"interpreter": interp,
				"args":        scriptArgs,
				"returncode":  res.ExitCode,
				"stdout":      res.Stdout,
				"stderr":      res.Stderr,
				"timed_out":   res.TimedOut,
			}, nil
		})
}

func displayPath(p string) string {
	if p == "" {
		return "."
	}
	return p
}
