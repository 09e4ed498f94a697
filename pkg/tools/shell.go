// Copyright 2026 Society Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/society-labs/society/internal/csync"
	"github.com/society-labs/society/pkg/events"
)

const (
	// DefaultCommandTimeout bounds foreground commands.
	DefaultCommandTimeout = 5 * time.Minute

	// backgroundProbeDelay is how long run_command waits before checking a
	// detached process and tailing its log.
	backgroundProbeDelay = 3 * time.Second

	// backgroundTailBytes caps the log tail returned for background starts.
	backgroundTailBytes = 3 * 1024

	// outputHeadBytes/outputTailBytes shape oversized foreground output so
	// trailing test summaries stay visible.
	outputHeadBytes     = 4000
	outputTailBytes     = 2000
	outputCompressAbove = 6 * 1024

	// streamThrottle is the minimum gap between output events.
	streamThrottle = 500 * time.Millisecond

	// termGrace is how long a timed-out process gets between SIGTERM and
	// SIGKILL.
	termGrace = 2 * time.Second

	// logDirName is the per-agent runtime directory inside the home folder.
	logDirName = ".society/logs"
)

// serverPatterns match commands that never terminate on their own; they are
// auto-promoted to background so a foreground wait cannot wedge the loop.
var serverPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bnpm\s+(run\s+)?(dev|start|serve|server)\b`),
	regexp.MustCompile(`(?i)\bnodemon\b`),
	regexp.MustCompile(`(?i)\bts-node\b.*\bserver`),
	regexp.MustCompile(`(?i)\bpython3?\s+-m\s+http\.server\b`),
	regexp.MustCompile(`(?i)\buvicorn\b`),
	regexp.MustCompile(`(?i)\bflask\s+run\b`),
	regexp.MustCompile(`(?i)\brails\s+s(erver)?\b`),
	regexp.MustCompile(`(?i)\bphp\s+-S\b`),
}

// ShellGuard holds the host-protection config: the runtime's own port and
// process names that agents must never kill.
type ShellGuard struct {
	systemPort  int
	systemNames []string
	forbidden   []*regexp.Regexp
}

// NewShellGuard compiles the forbidden-command patterns for the given host
// port and process names.
func NewShellGuard(systemPort int, systemProcessNames []string) *ShellGuard {
	g := &ShellGuard{systemPort: systemPort, systemNames: systemProcessNames}

	// Indiscriminate kills are always refused.
	g.forbidden = append(g.forbidden, regexp.MustCompile(`\bkill\s+(-\w+\s+)*-1\b`))

	if systemPort > 0 {
		port := strconv.Itoa(systemPort)
		g.forbidden = append(g.forbidden,
			regexp.MustCompile(`(?i)\bkill\w*\b.*\b`+port+`\b`),
			regexp.MustCompile(`(?i)\bfuser\b.*\b`+port+`\b`),
			regexp.MustCompile(`(?i)\blsof\b.*:`+port+`\b.*\bkill`),
		)
	}
	for _, name := range systemProcessNames {
		if name == "" {
			continue
		}
		quoted := regexp.QuoteMeta(name)
		g.forbidden = append(g.forbidden,
			regexp.MustCompile(`(?i)\b(p?kill|killall)\b.*`+quoted),
		)
	}
	return g
}

// CheckForbidden returns a human-readable reason when the command would
// endanger the host runtime, or "" when it is allowed.
func (g *ShellGuard) CheckForbidden(command string) string {
	if g == nil {
		return ""
	}
	for _, re := range g.forbidden {
		if re.MatchString(command) {
			return fmt.Sprintf("command matches protected pattern %q", re.String())
		}
	}
	return ""
}

// ProtectedName reports whether a process name is on the do-not-kill list.
func (g *ShellGuard) ProtectedName(name string) bool {
	if g == nil {
		return false
	}
	lower := strings.ToLower(name)
	for _, protected := range g.systemNames {
		if protected != "" && strings.Contains(lower, strings.ToLower(protected)) {
			return true
		}
	}
	return false
}

// SystemPort returns the protected port (0 when unset).
func (g *ShellGuard) SystemPort() int {
	if g == nil {
		return 0
	}
	return g.systemPort
}

// isServerCommand reports whether the command matches a long-running server
// pattern.
func isServerCommand(command string) bool {
	for _, re := range serverPatterns {
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

// backgroundSession tracks one detached process started by run_command.
type backgroundSession struct {
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	LogFile   string    `json:"logFile"`
	StartedAt time.Time `json:"startedAt"`
}

// runCommandTool executes shell commands in the agent home.
type runCommandTool struct {
	deps     *Deps
	sessions *csync.Map[int, *backgroundSession]
}

func newRunCommandTool(deps *Deps) *runCommandTool {
	return &runCommandTool{
		deps:     deps,
		sessions: csync.NewMap[int, *backgroundSession](),
	}
}

func (t *runCommandTool) Name() string { return "run_command" }

func (t *runCommandTool) Description() string {
	return "Run a shell command in your working folder. Long-running servers are started in the background automatically; use background=true to force it. Foreground commands time out after 5 minutes by default."
}

func (t *runCommandTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for running a shell command",
		map[string]*JSONSchema{
			"command":    NewStringSchema("The shell command to run"),
			"background": NewBooleanSchema("Detach and keep running after the tool returns").WithDefault(false),
			"timeout_ms": NewNumberSchema("Foreground timeout in milliseconds (default 300000)"),
		},
		[]string{"command"},
	)
}

func (t *runCommandTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	command, hasCommand := stringParam(params, "command")
	if !hasCommand {
		return fail("INVALID_PARAMS", "command is required", ""), nil
	}

	if reason := t.deps.Shell.CheckForbidden(command); reason != "" {
		t.deps.logger().Warn("blocked shell command",
			zap.String("agent_id", t.deps.AgentID),
			zap.String("command", command),
			zap.String("reason", reason))
		return failDetails("BLOCKED",
			fmt.Sprintf("Blocked: %s", reason),
			"This command could take down the runtime itself and will never be allowed.",
			map[string]any{"command": command}), nil
	}

	background := optionalBool(params, "background", false)
	if !background && isServerCommand(command) {
		background = true
	}

	if background {
		return t.runBackground(ctx, command)
	}

	timeout := DefaultCommandTimeout
	if ms := optionalNumber(params, "timeout_ms", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	return t.runForeground(ctx, command, timeout)
}

// runBackground detaches the command, waits briefly, and reports whether the
// process survived its first seconds along with a tail of its log.
func (t *runCommandTool) runBackground(ctx context.Context, command string) (*Result, error) {
	logDir := filepath.Join(t.deps.Home.Root(), logDirName)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fail("SPAWN_FAILED", fmt.Sprintf("Failed to create log directory: %v", err), ""), nil
	}
	logPath := filepath.Join(logDir, fmt.Sprintf("cmd-%d.log", time.Now().UnixMilli()))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fail("SPAWN_FAILED", fmt.Sprintf("Failed to open log file: %v", err), ""), nil
	}

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = t.deps.Home.Root()
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fail("SPAWN_FAILED", fmt.Sprintf("Failed to start command: %v", err), ""), nil
	}
	pid := cmd.Process.Pid
	logFile.Close()

	session := &backgroundSession{
		PID:       pid,
		Command:   command,
		LogFile:   logPath,
		StartedAt: time.Now(),
	}
	t.sessions.Set(pid, session)

	// Reap on exit so finished children do not linger as zombies.
	go func() {
		_ = cmd.Wait()
		t.sessions.Delete(pid)
	}()

	select {
	case <-time.After(backgroundProbeDelay):
	case <-ctx.Done():
	}

	alive := cmd.Process.Signal(syscall.Signal(0)) == nil
	tail := tailFile(logPath, backgroundTailBytes)

	t.deps.logger().Info("background command started",
		zap.String("agent_id", t.deps.AgentID),
		zap.String("command", command),
		zap.Int("pid", pid),
		zap.Bool("alive", alive))

	data := map[string]any{
		"pid":        pid,
		"alive":      alive,
		"logFile":    t.deps.Home.Relative(logPath),
		"background": true,
		"output":     tail,
	}
	if !alive {
		return &Result{
			Success: false,
			Data:    data,
			Error: &Error{
				Code:       "PROCESS_DIED",
				Message:    fmt.Sprintf("Process exited within %s of starting", backgroundProbeDelay),
				Suggestion: "Check the log output above for the startup error.",
			},
		}, nil
	}
	return ok(data), nil
}

// runForeground runs the command to completion, streaming combined output to
// the event sink and compressing oversized output head+tail.
func (t *runCommandTool) runForeground(ctx context.Context, command string, timeout time.Duration) (*Result, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = t.deps.Home.Root()

	var buf outputBuffer
	buf.onFlush = func(chunk string) {
		t.deps.Broker.Emit(events.TypeSystem, t.deps.AgentID, t.deps.ProjectID, map[string]any{
			"kind":    "command-output",
			"command": command,
			"chunk":   chunk,
		})
	}
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Start(); err != nil {
		return fail("SPAWN_FAILED", fmt.Sprintf("Failed to start command: %v", err), ""), nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timedOut := false
	select {
	case <-done:
	case <-ctx.Done():
		terminate(cmd)
		<-done
		timedOut = true
	case <-time.After(timeout):
		terminate(cmd)
		<-done
		timedOut = true
	}
	buf.flush()

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	output := compressOutput(buf.String())
	data := map[string]any{
		"command":  command,
		"output":   output,
		"exitCode": exitCode,
		"timedOut": timedOut,
	}

	switch {
	case timedOut:
		return &Result{
			Success: false,
			Data:    data,
			Error: &Error{
				Code:       "TIMEOUT",
				Message:    fmt.Sprintf("Command did not finish within %s", timeout),
				Retryable:  true,
				Suggestion: "Run it with background=true if it is a server, or raise timeout_ms.",
			},
		}, nil
	case exitCode != 0:
		return &Result{
			Success: false,
			Data:    data,
			Error: &Error{
				Code:    "NONZERO_EXIT",
				Message: fmt.Sprintf("Command exited with status %d", exitCode),
			},
		}, nil
	default:
		return ok(data), nil
	}
}

// Sessions returns the live background sessions started by this agent.
func (t *runCommandTool) Sessions() []*backgroundSession {
	out := make([]*backgroundSession, 0, t.sessions.Len())
	for s := range t.sessions.Values() {
		out = append(out, s)
	}
	return out
}

// terminate SIGTERMs the whole process group, escalating to SIGKILL after a
// grace period.
func terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	// Negative pid addresses the group when the child got its own session.
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	_ = cmd.Process.Signal(syscall.SIGTERM)

	go func(p *os.Process) {
		time.Sleep(termGrace)
		_ = p.Kill()
	}(cmd.Process)
}

// outputBuffer accumulates combined output and flushes throttled chunks to
// the event sink.
type outputBuffer struct {
	mu        sync.Mutex
	data      strings.Builder
	unflushed strings.Builder
	lastFlush time.Time
	onFlush   func(chunk string)
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.data.Write(p)
	b.unflushed.Write(p)
	shouldFlush := time.Since(b.lastFlush) >= streamThrottle && b.unflushed.Len() > 0
	var chunk string
	if shouldFlush {
		chunk = b.unflushed.String()
		b.unflushed.Reset()
		b.lastFlush = time.Now()
	}
	b.mu.Unlock()

	if shouldFlush && b.onFlush != nil {
		b.onFlush(chunk)
	}
	return len(p), nil
}

func (b *outputBuffer) flush() {
	b.mu.Lock()
	chunk := b.unflushed.String()
	b.unflushed.Reset()
	b.lastFlush = time.Now()
	b.mu.Unlock()

	if chunk != "" && b.onFlush != nil {
		b.onFlush(chunk)
	}
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data.String()
}

// compressOutput keeps the head and tail of oversized command output so the
// error summary at the end survives truncation.
func compressOutput(out string) string {
	if len(out) <= outputCompressAbove {
		return out
	}
	return out[:outputHeadBytes] + "\n…omitted…\n" + out[len(out)-outputTailBytes:]
}

// tailFile returns up to limit bytes from the end of path.
func tailFile(path string, limit int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := int64(0)
	if info.Size() > limit {
		offset = info.Size() - limit
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return ""
	}
	return string(buf)
}

// killProcessTool terminates an agent-started process, refusing anything
// that looks like the host runtime.
type killProcessTool struct {
	deps *Deps
}

func (t *killProcessTool) Name() string { return "kill_process" }

func (t *killProcessTool) Description() string {
	return "Terminate a process you started, by pid or by name. System processes are protected."
}

func (t *killProcessTool) InputSchema() *JSONSchema {
	return NewObjectSchema(
		"Parameters for killing a process",
		map[string]*JSONSchema{
			"pid":  NewNumberSchema("Process id to terminate"),
			"name": NewStringSchema("Process name to terminate (pkill match)"),
		},
		nil,
	)
}

func (t *killProcessTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	pid := int(optionalNumber(params, "pid", 0))
	name := optionalString(params, "name", "")

	if pid == 0 && name == "" {
		return fail("INVALID_PARAMS", "pid or name is required", ""), nil
	}

	if name != "" {
		if t.deps.Shell.ProtectedName(name) {
			return fail("BLOCKED",
				fmt.Sprintf("Blocked: %q is a protected system process", name),
				"You cannot kill the runtime that hosts you."), nil
		}
		out, err := exec.CommandContext(ctx, "pkill", "-f", name).CombinedOutput()
		if err != nil {
			// pkill exits 1 when nothing matched.
			return fail("NOT_FOUND",
				fmt.Sprintf("No process matched %q: %s", name, strings.TrimSpace(string(out))), ""), nil
		}
		return ok(map[string]any{"name": name, "killed": true}), nil
	}

	if cmdline := processCommandLine(pid); cmdline != "" && t.deps.Shell.ProtectedName(cmdline) {
		return fail("BLOCKED",
			fmt.Sprintf("Blocked: pid %d belongs to a protected system process", pid),
			"You cannot kill the runtime that hosts you."), nil
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fail("KILL_FAILED", fmt.Sprintf("Failed to kill pid %d: %v", pid, err), ""), nil
	}
	return ok(map[string]any{"pid": pid, "killed": true}), nil
}

// processCommandLine reads /proc/{pid}/cmdline; empty on any failure.
func processCommandLine(pid int) string {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return ""
	}
	return strings.ReplaceAll(string(data), "\x00", " ")
}
