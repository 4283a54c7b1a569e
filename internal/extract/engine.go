package extract

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/collegedata/crawler/internal/metrics"
	"github.com/collegedata/crawler/internal/pipeline"
	"github.com/collegedata/crawler/internal/results"
)

// Event topics published on extraction lifecycle transitions.
const (
	TopicExtractionCompleted = "extraction.completed"
	TopicJobFailed           = "job.failed"
)

// Model is the language model surface the engine needs: lazy loading plus
// generation. The shared manager is loaded on first use.
type Model interface {
	pipeline.Generator
	Load(ctx context.Context) error
}

// Deps carries the engine's collaborators. Events is optional.
type Deps struct {
	Model    Model
	Targets  pipeline.TargetStore
	Jobs     pipeline.AIJobStore
	Contents pipeline.ContentStore
	Results  results.Store
	Events   pipeline.Publisher
	Clock    pipeline.Clock
	Logger   *zap.Logger
}

// Engine runs one extraction job end to end: prompt, generate, parse,
// route, merge-upsert, and job bookkeeping.
type Engine struct {
	deps   Deps
	logger *zap.Logger
}

// NewEngine builds an Engine.
func NewEngine(deps Deps) (*Engine, error) {
	if deps.Model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if deps.Targets == nil || deps.Jobs == nil || deps.Contents == nil || deps.Results == nil {
		return nil, fmt.Errorf("target, job, content, and result stores are required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{deps: deps, logger: logger}, nil
}

// Run executes the extraction job with the given id from start to terminal
// status. A response the model cannot structure is not a failure: the job
// completes with zero confidence and the content is marked processed so it
// is not retried forever.
func (e *Engine) Run(ctx context.Context, jobID string) error {
	job, err := e.deps.Jobs.GetAIJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load extraction job %s: %w", jobID, err)
	}
	if err := e.deps.Jobs.MarkAIJobRunning(ctx, jobID); err != nil && !errors.Is(err, pipeline.ErrNotFound) {
		return fmt.Errorf("mark extraction job running: %w", err)
	}

	logger := e.logger.With(zap.String("job_id", jobID), zap.String("target_id", job.TargetID))

	content, err := e.deps.Contents.GetRawContent(ctx, job.RawContentID)
	if err != nil {
		msg := fmt.Sprintf("raw content %s not found", job.RawContentID)
		e.fail(ctx, logger, job, "", msg)
		return fmt.Errorf("load raw content %s: %w", job.RawContentID, err)
	}

	if err := e.deps.Model.Load(ctx); err != nil {
		msg := fmt.Sprintf("model load failed: %v", err)
		e.fail(ctx, logger, job, content.ID, msg)
		return fmt.Errorf("load model: %w", err)
	}

	collegeName := ""
	if target, err := e.deps.Targets.GetTarget(ctx, job.TargetID); err == nil {
		collegeName = target.Name
	}

	prompt := BuildPrompt(content.Category, collegeName, content.URL, content.Content)
	response, err := e.deps.Model.Generate(ctx, prompt)
	if err != nil {
		msg := fmt.Sprintf("generation failed: %v", err)
		e.fail(ctx, logger, job, content.ID, msg)
		return fmt.Errorf("generate: %w", err)
	}

	data, confidence := ParseResponse(response, content.Category)
	classified := Route(content.Category, data, job.TargetID, content.URL)

	resultID, err := e.upsert(ctx, classified)
	if err != nil {
		msg := fmt.Sprintf("store extraction result: %v", err)
		e.fail(ctx, logger, job, content.ID, msg)
		return fmt.Errorf("store extraction result: %w", err)
	}

	result := pipeline.AIJobResult{
		ModelName:   e.deps.Model.ModelName(),
		Confidence:  confidence,
		ResultID:    resultID,
		Prompt:      prompt,
		RawResponse: response,
	}
	if err := e.deps.Jobs.RecordAIJobResult(ctx, jobID, result); err != nil {
		logger.Warn("result record write failed", zap.Error(err))
	}
	if err := e.deps.Contents.MarkContentProcessed(ctx, content.ID); err != nil {
		logger.Warn("mark content processed failed", zap.Error(err))
	}
	if err := e.deps.Jobs.CompleteAIJob(ctx, jobID, pipeline.JobStatusCompleted, ""); err != nil {
		return fmt.Errorf("complete extraction job: %w", err)
	}

	metrics.ObserveJob(string(pipeline.JobKindExtraction), string(pipeline.JobStatusCompleted))
	metrics.ObserveConfidence(confidence)
	e.publish(ctx, TopicExtractionCompleted, map[string]any{
		"job_id":     jobID,
		"target_id":  job.TargetID,
		"category":   classified.Kind,
		"result_id":  resultID,
		"confidence": confidence,
	})
	logger.Info("extraction completed",
		zap.String("category", string(classified.Kind)),
		zap.Float64("confidence", confidence),
		zap.String("result_id", resultID),
	)
	return nil
}

// upsert stores the routed variant and returns the document id. Unrouted
// general content stores nothing.
func (e *Engine) upsert(ctx context.Context, classified results.Classified) (string, error) {
	switch {
	case classified.Admission != nil:
		return e.deps.Results.UpsertAdmission(ctx, *classified.Admission)
	case classified.Placement != nil:
		return e.deps.Results.UpsertPlacement(ctx, *classified.Placement)
	case classified.Internship != nil:
		return e.deps.Results.UpsertInternship(ctx, *classified.Internship)
	default:
		return "", nil
	}
}

func (e *Engine) fail(ctx context.Context, logger *zap.Logger, job pipeline.AIJob, contentID, msg string) {
	if err := e.deps.Jobs.CompleteAIJob(ctx, job.ID, pipeline.JobStatusFailed, msg); err != nil {
		logger.Warn("failed-status write failed", zap.Error(err))
	}
	if contentID != "" {
		if err := e.deps.Contents.RecordProcessingFailure(ctx, contentID, msg); err != nil {
			logger.Warn("processing failure record failed", zap.Error(err))
		}
	}
	metrics.ObserveJob(string(pipeline.JobKindExtraction), string(pipeline.JobStatusFailed))
	e.publish(ctx, TopicJobFailed, map[string]any{
		"job_id":    job.ID,
		"target_id": job.TargetID,
		"job_kind":  pipeline.JobKindExtraction,
		"error":     msg,
	})
}

func (e *Engine) publish(ctx context.Context, topic string, payload any) {
	if e.deps.Events == nil {
		return
	}
	if _, err := e.deps.Events.Publish(ctx, topic, payload); err != nil {
		e.logger.Warn("event publish failed", zap.String("topic", topic), zap.Error(err))
	}
}
