package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrAllModelsFailed reports a Stage 1 in which no council model produced a
// response. This is the only model-failure condition fatal to a
// deliberation; Stage 2 and 3 are never attempted after it.
var ErrAllModelsFailed = errors.New("all council models failed to respond")

// State identifies where a deliberation currently is in the pipeline.
type State int

const (
	StateIdle State = iota
	StateStage1Running
	StateStage2Running
	StateStage3Running
	StateComplete
	StateFailed
)

// String returns the lowercase wire name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStage1Running:
		return "stage1_running"
	case StateStage2Running:
		return "stage2_running"
	case StateStage3Running:
		return "stage3_running"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// stateTransitions lists the legal moves. Failed is terminal and reachable
// only from Stage 1, where a total loss of generators leaves nothing to
// rank or synthesize. Rater and chairman failures degrade the result
// instead of moving the machine off its happy path.
var stateTransitions = map[State][]State{
	StateIdle:          {StateStage1Running},
	StateStage1Running: {StateStage2Running, StateFailed},
	StateStage2Running: {StateStage3Running},
	StateStage3Running: {StateComplete},
}

// deliberation tracks the state of one pipeline run.
type deliberation struct {
	state  State
	logger *zap.Logger
}

// advance moves the deliberation to the next state, rejecting moves the
// transition table does not allow.
func (d *deliberation) advance(next State) error {
	for _, allowed := range stateTransitions[d.state] {
		if allowed != next {
			continue
		}
		d.logger.Debug("deliberation state change",
			zap.Stringer("from", d.state),
			zap.Stringer("to", next))
		d.state = next
		return nil
	}
	return fmt.Errorf("illegal deliberation state change: %s to %s", d.state, next)
}

// CouncilConfig carries the default model pool, per-stage budgets and
// optional prompt template overrides for an Engine. It is fixed at
// construction; per-deliberation overrides arrive on the request.
type CouncilConfig struct {
	CouncilModels     []string
	ChairmanModel     string
	TitleModel        string
	GenerationTimeout time.Duration
	RankingTimeout    time.Duration
	SynthesisTimeout  time.Duration
	TitleTimeout      time.Duration
	RankingPrompt     string
	ChairmanPrompt    string
}

// DefaultCouncilConfig returns the stock council: four frontier models with
// one of them doubling as chairman, and a fast model for titles. Generation
// gets a longer budget than ranking; synthesis reads everything, so it gets
// the longest.
func DefaultCouncilConfig() CouncilConfig {
	return CouncilConfig{
		CouncilModels: []string{
			"openai/gpt-5.1",
			"google/gemini-3-pro-preview",
			"anthropic/claude-sonnet-4.5",
			"x-ai/grok-4",
		},
		ChairmanModel:     "google/gemini-3-pro-preview",
		TitleModel:        "google/gemini-2.5-flash",
		GenerationTimeout: 120 * time.Second,
		RankingTimeout:    90 * time.Second,
		SynthesisTimeout:  180 * time.Second,
		TitleTimeout:      30 * time.Second,
	}
}

// DeliberationRequest describes one deliberation run.
type DeliberationRequest struct {
	// ConversationID selects where the result is recorded. Empty skips
	// persistence.
	ConversationID string

	// Query is the user's question.
	Query string

	// SystemPrompt, when set, is prepended to every Stage 1 generation.
	SystemPrompt string

	// CouncilModels overrides the configured pool; empty uses the default.
	// The same list generates in Stage 1 and rates in Stage 2.
	CouncilModels []string

	// ChairmanModel overrides the configured chairman; empty uses the default.
	ChairmanModel string

	// RankingPrompt and ChairmanPrompt override the stage templates for this
	// run. They take the same named placeholders as the defaults.
	RankingPrompt  string
	ChairmanPrompt string

	// GenerateTitle runs the title side task alongside the stages.
	GenerateTitle bool
}

// ConversationStore records the outcome of a finished deliberation.
type ConversationStore interface {
	AppendDeliberation(conversationID string, result *DeliberationResult) error
	SetTitle(conversationID string, title string) error
}

// Engine runs the three-stage council protocol: independent generation,
// anonymized peer ranking, chairman synthesis. It is safe for concurrent
// use; each call to Deliberate is an independent run.
type Engine struct {
	client ModelClient
	store  ConversationStore
	parser RankParser
	cfg    CouncilConfig
	logger *zap.Logger
}

// NewEngine creates an engine around the given model client. store may be
// nil when results should not be persisted.
func NewEngine(client ModelClient, store ConversationStore, cfg CouncilConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		client: client,
		store:  store,
		parser: FinalRankingParser{},
		cfg:    cfg,
		logger: logger.With(zap.String("component", "deliberation")),
	}
}

// Deliberate runs the full pipeline synchronously and returns the assembled
// result. Individual model failures are recorded in the result, never
// returned as errors; the error cases are context cancellation, a Stage 1
// in which every model fails, and a store that rejects the final record.
func (e *Engine) Deliberate(ctx context.Context, req DeliberationRequest) (*DeliberationResult, error) {
	return e.run(ctx, req, nil)
}

// run drives the state machine. emit, when non-nil, receives progress
// events in order as each stage completes; the terminal complete/error
// event belongs to the caller.
func (e *Engine) run(ctx context.Context, req DeliberationRequest, emit func(StreamEvent)) (*DeliberationResult, error) {
	models := req.CouncilModels
	if len(models) == 0 {
		models = e.cfg.CouncilModels
	}
	chairman := req.ChairmanModel
	if chairman == "" {
		chairman = e.cfg.ChairmanModel
	}

	send := func(ev StreamEvent) {
		if emit != nil {
			emit(ev)
		}
	}

	d := &deliberation{state: StateIdle, logger: e.logger}

	// The title side task runs beside the stages and is joined exactly once
	// after Stage 3.
	var title *titleTask
	if req.GenerateTitle {
		title = e.spawnTitleTask(ctx, req.Query)
	}

	// Stage 1: independent generation.
	if err := d.advance(StateStage1Running); err != nil {
		return nil, err
	}
	send(StreamEvent{Type: EventStage1Start})

	stage1 := e.runStage1(ctx, models, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if succeededCount(stage1) == 0 {
		if err := d.advance(StateFailed); err != nil {
			return nil, err
		}
		e.logger.Error("stage 1 produced no responses", zap.Int("models", len(models)))
		return nil, ErrAllModelsFailed
	}
	send(stage1CompleteEvent(stage1))

	// Stage 2: anonymized peer ranking.
	if err := d.advance(StateStage2Running); err != nil {
		return nil, err
	}
	send(StreamEvent{Type: EventStage2Start})

	submissions, labelToModel := e.runStage2(ctx, models, req, stage1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	aggregate := AggregateRankings(submissions, labelToModel, modelOrder(stage1))
	send(stage2CompleteEvent(submissions, labelToModel, aggregate))

	// Stage 3: chairman synthesis.
	if err := d.advance(StateStage3Running); err != nil {
		return nil, err
	}
	send(StreamEvent{Type: EventStage3Start})

	stage3 := e.runStage3(ctx, chairman, req, stage1, submissions, aggregate)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	send(stage3CompleteEvent(stage3))

	result := &DeliberationResult{
		Stage1:            stage1,
		Stage2:            submissions,
		LabelToModel:      labelToModel,
		AggregateRankings: aggregate,
		Stage3:            stage3,
		GenerationIDs:     collectGenerationIDs(stage1, submissions, stage3),
	}

	// Join the title task before completion is signaled.
	if title != nil {
		outcome := title.join()
		if e.store != nil && req.ConversationID != "" {
			if err := e.store.SetTitle(req.ConversationID, outcome.title); err != nil {
				e.logger.Warn("failed to store conversation title", zap.Error(err))
			}
		}
		if outcome.generated {
			send(titleCompleteEvent(outcome.title))
		}
	}

	if err := d.advance(StateComplete); err != nil {
		return nil, err
	}
	if e.store != nil && req.ConversationID != "" {
		if err := e.store.AppendDeliberation(req.ConversationID, result); err != nil {
			return nil, fmt.Errorf("failed to record deliberation: %w", err)
		}
	}

	e.logger.Info("deliberation complete",
		zap.Int("responses", succeededCount(stage1)),
		zap.Int("rankings", len(submissions)),
		zap.Bool("synthesis_ok", stage3.Succeeded))

	return result, nil
}

// runStage1 fans the query out to every council model in parallel. Each
// worker writes to its own slot, so the join needs no locking; the barrier
// waits for all of them, success or failure.
func (e *Engine) runStage1(ctx context.Context, models []string, req DeliberationRequest) []ModelResponse {
	messages := make([]ChatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: req.Query})

	responses := make([]ModelResponse, len(models))
	g, gctx := errgroup.WithContext(ctx)
	for i, model := range models {
		g.Go(func() error {
			reply, err := e.client.Query(gctx, model, messages, e.cfg.GenerationTimeout)
			if err != nil {
				e.logger.Warn("stage 1 model failed",
					zap.String("model", model), zap.Error(err))
				responses[i] = ModelResponse{Model: model, Error: err.Error()}
				return nil
			}
			responses[i] = ModelResponse{
				Model:        model,
				Content:      reply.Content,
				Succeeded:    true,
				GenerationID: reply.GenerationID,
			}
			return nil
		})
	}
	// Workers report failures in their own slot and never return errors.
	_ = g.Wait()

	return responses
}

// runStage2 anonymizes the Stage 1 survivors, builds the ranking prompt
// once, and fans it out to every council model. Raters that fail outright
// produce no submission; raters whose critique yields no parseable ranking
// keep their raw text with an empty parsed order.
func (e *Engine) runStage2(ctx context.Context, models []string, req DeliberationRequest, stage1 []ModelResponse) ([]RankingSubmission, map[string]string) {
	labelToModel, responsesText := Anonymize(stage1)

	template := req.RankingPrompt
	if template == "" {
		template = e.cfg.RankingPrompt
	}
	prompt := buildRankingPrompt(template, req.Query, responsesText)
	messages := []ChatMessage{{Role: "user", Content: prompt}}

	slots := make([]*RankingSubmission, len(models))
	g, gctx := errgroup.WithContext(ctx)
	for i, model := range models {
		g.Go(func() error {
			reply, err := e.client.Query(gctx, model, messages, e.cfg.RankingTimeout)
			if err != nil {
				e.logger.Warn("stage 2 rater failed",
					zap.String("model", model), zap.Error(err))
				return nil
			}
			parsed := e.parser.Parse(reply.Content, labelToModel)
			if len(parsed) == 0 {
				e.logger.Warn("no ranking parsed from critique",
					zap.String("model", model))
			}
			slots[i] = &RankingSubmission{
				Model:        model,
				Ranking:      reply.Content,
				ParsedOrder:  parsed,
				GenerationID: reply.GenerationID,
			}
			return nil
		})
	}
	_ = g.Wait()

	submissions := make([]RankingSubmission, 0, len(models))
	for _, slot := range slots {
		if slot != nil {
			submissions = append(submissions, *slot)
		}
	}

	return submissions, labelToModel
}

// runStage3 issues the single chairman call. A chairman failure yields an
// explicit error placeholder so the caller still gets the Stage 1/2 data.
func (e *Engine) runStage3(ctx context.Context, chairman string, req DeliberationRequest, stage1 []ModelResponse, submissions []RankingSubmission, aggregate []AggregateRanking) SynthesisResult {
	template := req.ChairmanPrompt
	if template == "" {
		template = e.cfg.ChairmanPrompt
	}
	prompt := buildChairmanPrompt(template, req.Query,
		buildStage1Text(stage1), buildStage2Text(submissions, aggregate))
	messages := []ChatMessage{{Role: "user", Content: prompt}}

	reply, err := e.client.Query(ctx, chairman, messages, e.cfg.SynthesisTimeout)
	if err != nil {
		e.logger.Error("chairman synthesis failed",
			zap.String("model", chairman), zap.Error(err))
		return SynthesisResult{Model: chairman, Error: err.Error()}
	}

	return SynthesisResult{
		Model:        chairman,
		Content:      reply.Content,
		Succeeded:    true,
		GenerationID: reply.GenerationID,
	}
}

// titleOutcome is the result of the title side task. generated is false
// when the task fell back to the default title.
type titleOutcome struct {
	title     string
	generated bool
}

// titleTask is the handle for the concurrent title generation. The task
// always sends exactly one outcome, bounded by the title timeout, so join
// cannot block indefinitely.
type titleTask struct {
	ch chan titleOutcome
}

// spawnTitleTask starts title generation concurrently with the pipeline.
func (e *Engine) spawnTitleTask(ctx context.Context, query string) *titleTask {
	t := &titleTask{ch: make(chan titleOutcome, 1)}
	go func() {
		messages := []ChatMessage{{Role: "user", Content: buildTitlePrompt(query)}}
		reply, err := e.client.Query(ctx, e.cfg.TitleModel, messages, e.cfg.TitleTimeout)
		if err != nil {
			e.logger.Warn("title generation failed", zap.Error(err))
			t.ch <- titleOutcome{title: fallbackTitle}
			return
		}
		t.ch <- titleOutcome{title: cleanTitle(reply.Content), generated: true}
	}()
	return t
}

// join waits for the side task's single outcome.
func (t *titleTask) join() titleOutcome {
	return <-t.ch
}

// succeededCount returns how many Stage 1 responses carry content.
func succeededCount(responses []ModelResponse) int {
	count := 0
	for _, response := range responses {
		if response.Succeeded {
			count++
		}
	}
	return count
}

// modelOrder returns the Stage 1 emission order of all models, used as the
// final aggregate tie-break.
func modelOrder(responses []ModelResponse) []string {
	order := make([]string, len(responses))
	for i, response := range responses {
		order[i] = response.Model
	}
	return order
}

// collectGenerationIDs gathers the upstream IDs of every call in stage
// order. The engine never interprets them.
func collectGenerationIDs(stage1 []ModelResponse, stage2 []RankingSubmission, stage3 SynthesisResult) []string {
	var ids []string
	for _, response := range stage1 {
		if response.GenerationID != "" {
			ids = append(ids, response.GenerationID)
		}
	}
	for _, submission := range stage2 {
		if submission.GenerationID != "" {
			ids = append(ids, submission.GenerationID)
		}
	}
	if stage3.GenerationID != "" {
		ids = append(ids, stage3.GenerationID)
	}
	return ids
}
