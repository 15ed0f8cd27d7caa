// Package openai provides the Codex-style agent session provider backed by
// the official OpenAI Go client's Responses API.
package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"conductor/pkg/board"
	"conductor/pkg/logx"
	"conductor/pkg/proto"
	"conductor/pkg/runner"
)

const (
	defaultModel     = "gpt-5"
	defaultMaxTokens = 8192
)

// Runner starts agent sessions through the OpenAI Responses API.
type Runner struct {
	client    openai.Client
	model     string
	maxTokens int64
	logger    *logx.Logger
}

// New creates an OpenAI-backed runner. An empty model selects the default.
func New(apiKey, model string) *Runner {
	if model == "" {
		model = defaultModel
	}
	return &Runner{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: defaultMaxTokens,
		logger:    logx.NewLogger("runner-codex"),
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
		model = feature.Model
	}

	r.logger.Info("starting session %s for feature %s (model %s)", session.ID, feature.ID, model)
	go r.run(sessionCtx, session, feature, model)

	return session, nil
}

func (r *Runner) run(ctx context.Context, session *runner.Session, feature *board.Feature, model string) {
	input := fmt.Sprintf(
		"Implement the following feature and report what you did.\n\nFeature: %s\n\n%s",
		feature.Title, feature.Description,
	)
	r.logger.Debug("feature %s prompt estimate: %d tokens", feature.ID, runner.EstimateTokens(input))

	params := responses.ResponseNewParams{
		Model:           model,
		MaxOutputTokens: openai.Int(r.maxTokens),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	}

	resp, err := r.client.Responses.New(ctx, params)
	if err != nil {
		session.Emit(proto.NewErrorEvent(feature.ID, fmt.Sprintf("OpenAI Responses API failed: %v", err)))
		return
	}
	if resp == nil {
		session.Emit(proto.NewErrorEvent(feature.ID, "empty response from OpenAI Responses API"))
		return
	}

	text := resp.OutputText()
	if text == "" {
		session.Emit(proto.NewErrorEvent(feature.ID, "response contained no output text"))
		return
	}

	session.Emit(proto.AgentEvent{
		Kind:      proto.EventAssistant,
		FeatureID: feature.ID,
		Timestamp: time.Now().UTC(),
		Text:      text,
	})
	session.Emit(proto.NewResultEvent(feature.ID, text))
}
