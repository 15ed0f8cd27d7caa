package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"conductor/pkg/board"
	"conductor/pkg/logx"
	"conductor/pkg/proto"
)

// agentRequest is the JSON document written to the agent CLI's stdin.
type agentRequest struct {
	FeatureID     string `json:"feature_id"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	Model         string `json:"model,omitempty"`
	ThinkingLevel string `json:"thinking_level,omitempty"`
}

// wireEvent is one NDJSON line on the agent CLI's stdout.
type wireEvent struct {
	Kind      string         `json:"kind"`
	Text      string         `json:"text,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}

// SubprocessRunner runs a local agent CLI per session: stdin carries a JSON
// request, stdout streams NDJSON events one per line. The child is killed
// when the session context is canceled.
type SubprocessRunner struct {
	Command string
	Args    []string
	Timeout time.Duration // 0 = context only

	logger *logx.Logger
}

// NewSubprocessRunner creates a runner that shells out to the given agent CLI.
func NewSubprocessRunner(command string, args []string, timeout time.Duration) *SubprocessRunner {
	return &SubprocessRunner{
		Command: command,
		Args:    args,
		Timeout: timeout,
		logger:  logx.NewLogger("runner-subprocess"),
	}
}

// Start launches the agent CLI for the feature and begins streaming events.
func (r *SubprocessRunner) Start(ctx context.Context, feature *board.Feature) (*Session, error) {
	if r.Command == "" {
		return nil, fmt.Errorf("subprocess command is required")
	}

	var sessionCtx context.Context
	var cancel context.CancelFunc
	if r.Timeout > 0 {
		sessionCtx, cancel = context.WithTimeout(ctx, r.Timeout)
	} else {
		sessionCtx, cancel = context.WithCancel(ctx)
	}

	req := agentRequest{
		FeatureID:     feature.ID,
		Title:         feature.Title,
		Description:   feature.Description,
		Model:         feature.Model,
		ThinkingLevel: feature.ThinkingLevel,
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to marshal agent request: %w", err)
	}

	cmd := exec.CommandContext(sessionCtx, r.Command, r.Args...)
	cmd.Stdin = strings.NewReader(string(reqJSON) + "\n")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start agent command: %w", err)
	}

	session := NewSession(feature.ID, cancel)
	r.logger.Info("started agent %s for feature %s (session %s, pid %d)",
		r.Command, feature.ID, session.ID, cmd.Process.Pid)

	promptTokens := EstimateTokens(feature.Title + "\n" + feature.Description)
	r.logger.Debug("feature %s prompt estimate: %d tokens", feature.ID, promptTokens)

	go r.consume(sessionCtx, cmd, stdout, session)

	return session, nil
}

// consume reads NDJSON events until the process exits, then resolves the
// terminal outcome from the explicit terminal event or the exit code.
func (r *SubprocessRunner) consume(ctx context.Context, cmd *exec.Cmd, stdout io.Reader, session *Session) {
	sawTerminal := false

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		var wire wireEvent
		if err := json.Unmarshal([]byte(line), &wire); err != nil {
			// Non-JSON output is surfaced as assistant text.
			session.Emit(proto.AgentEvent{
				Kind:      proto.EventAssistant,
				FeatureID: session.FeatureID,
				Timestamp: time.Now().UTC(),
				Text:      line,
			})
			continue
		}

		ev := normalizeWireEvent(session.FeatureID, &wire)
		if ev.Terminal() {
			sawTerminal = true
		}
		session.Emit(ev)
	}

	if ctx.Err() != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	if sawTerminal {
		return
	}

	switch {
	case ctx.Err() != nil:
		session.finishWithError("agent session canceled")
	case waitErr != nil:
		session.finishWithError(fmt.Sprintf("agent exited abnormally: %v", waitErr))
	default:
		// Clean exit with no explicit terminal event counts as success.
		session.Emit(proto.NewResultEvent(session.FeatureID, "agent exited cleanly"))
	}
}

func normalizeWireEvent(featureID string, wire *wireEvent) proto.AgentEvent {
	ev := proto.AgentEvent{
		Kind:      proto.EventKind(wire.Kind),
		FeatureID: featureID,
		Timestamp: wire.Timestamp,
		Text:      wire.Text,
		ToolName:  wire.ToolName,
		ToolUseID: wire.ToolUseID,
		ToolInput: wire.ToolInput,
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	switch ev.Kind {
	case proto.EventAssistant, proto.EventToolUse, proto.EventToolResult, proto.EventResult, proto.EventError:
	default:
		// Unknown kinds degrade to assistant text rather than being dropped.
		ev.Kind = proto.EventAssistant
	}
	return ev
}
