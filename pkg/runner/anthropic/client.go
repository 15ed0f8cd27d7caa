// Package anthropic provides the Claude-backed agent session provider.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"conductor/pkg/board"
	"conductor/pkg/logx"
	"conductor/pkg/proto"
	"conductor/pkg/runner"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 8192
)

const systemPrompt = "You are a coding agent working on one feature of a software project. " +
	"Implement the feature described by the user. Report what you did when finished."

// Runner starts Claude sessions through the Anthropic API.
type Runner struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	logger    *logx.Logger
}

// New creates a Claude-backed runner. An empty model selects the default.
func New(apiKey, model string) *Runner {
	if model == "" {
		model = defaultModel
	}
	return &Runner{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: defaultMaxTokens,
		logger:    logx.NewLogger("runner-claude"),
	}
}

// Start implements runner.Runner.
func (r *Runner) Start(ctx context.Context, feature *board.Feature) (*runner.Session, error) {
	if feature == nil || feature.ID == "" {
		return nil, fmt.Errorf("feature is required")
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	session := runner.NewSession(feature.ID, cancel)

	model := r.model
	if feature.Model != "" {
		model = anthropic.Model(feature.Model)
	}

	r.logger.Info("starting Claude session %s for feature %s (model %s)", session.ID, feature.ID, model)
	go r.run(sessionCtx, session, feature, model)

	return session, nil
}

func (r *Runner) run(ctx context.Context, session *runner.Session, feature *board.Feature, model anthropic.Model) {
	prompt := buildPrompt(feature)
	r.logger.Debug("feature %s prompt estimate: %d tokens", feature.ID, runner.EstimateTokens(prompt))

	params := anthropic.MessageNewParams{
		Model: model,
		Messages: []anthropic.MessageParam{{
			Role:    anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(prompt)},
		}},
		MaxTokens: r.maxTokens,
		System: []anthropic.TextBlockParam{{
			Text: systemPrompt,
			Type: "text",
		}},
	}

	resp, err := r.client.Messages.New(ctx, params)
	if err != nil {
		session.Emit(proto.NewErrorEvent(feature.ID, fmt.Sprintf("anthropic API call failed: %v", err)))
		return
	}
	if resp == nil || len(resp.Content) == 0 {
		session.Emit(proto.NewErrorEvent(feature.ID, "empty response from Claude API"))
		return
	}

	var summary string
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			text := block.AsText().Text
			summary = text
			session.Emit(proto.AgentEvent{
				Kind:      proto.EventAssistant,
				FeatureID: feature.ID,
				Timestamp: time.Now().UTC(),
				Text:      text,
			})
		case "tool_use":
			toolUse := block.AsToolUse()
			var input map[string]any
			if err := json.Unmarshal(toolUse.Input, &input); err != nil {
				r.logger.Warn("feature %s: unparseable tool input for %s: %v", feature.ID, toolUse.Name, err)
			}
			session.Emit(proto.AgentEvent{
				Kind:      proto.EventToolUse,
				FeatureID: feature.ID,
				Timestamp: time.Now().UTC(),
				ToolName:  toolUse.Name,
				ToolUseID: toolUse.ID,
				ToolInput: input,
			})
		}
	}

	if string(resp.StopReason) == "max_tokens" {
		session.Emit(proto.NewErrorEvent(feature.ID, "response truncated at max tokens"))
		return
	}
	session.Emit(proto.NewResultEvent(feature.ID, summary))
}

func buildPrompt(feature *board.Feature) string {
	if feature.Description == "" {
		return feature.Title
	}
	return fmt.Sprintf("%s\n\n%s", feature.Title, feature.Description)
}
