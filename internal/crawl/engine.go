package crawl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/collegedata/crawler/internal/metrics"
	"github.com/collegedata/crawler/internal/pipeline"
)

// Event topics published on crawl lifecycle transitions.
const (
	TopicCrawlCompleted = "crawl.completed"
	TopicJobFailed      = "job.failed"
)

// Config bounds one crawl run.
type Config struct {
	MaxPages  int
	MaxDepth  int
	Delay     time.Duration
	UserAgent string
}

// RenderDetector reports whether a fetched body needs a browser render
// before classification.
type RenderDetector interface {
	NeedsRendering(body []byte) bool
}

// Deps carries the engine's collaborators. Renderer, Detector, Archive, and
// Events are optional; the rest are required.
type Deps struct {
	Fetcher  pipeline.Fetcher
	Renderer pipeline.Fetcher
	Detector RenderDetector
	Targets  pipeline.TargetStore
	Jobs     pipeline.CrawlJobStore
	Contents pipeline.ContentStore
	Archive  pipeline.BlobStore
	Events   pipeline.Publisher
	Hasher   pipeline.Hasher
	Clock    pipeline.Clock
	IDs      pipeline.IDGenerator
	Logger   *zap.Logger
}

// Engine walks one target site breadth-first, classifies every HTML page it
// reaches, and persists the raw content for the extraction pipeline.
type Engine struct {
	cfg     Config
	deps    Deps
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewEngine builds an Engine, applying crawl bound defaults.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if deps.Targets == nil || deps.Jobs == nil || deps.Contents == nil {
		return nil, fmt.Errorf("target, job, and content stores are required")
	}
	if deps.Clock == nil || deps.IDs == nil {
		return nil, fmt.Errorf("clock and id generator are required")
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 100
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 3
	}
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		deps:    deps,
		limiter: rate.NewLimiter(rate.Every(cfg.Delay), 1),
		logger:  logger,
	}, nil
}

type frontierEntry struct {
	url   string
	depth int
}

// Run executes the crawl job with the given id from start to terminal
// status. Page-level failures are skipped; only job-level failures (bad
// target, cancellation) fail the job.
func (e *Engine) Run(ctx context.Context, jobID string) error {
	job, err := e.deps.Jobs.GetCrawlJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load crawl job %s: %w", jobID, err)
	}
	target, err := e.deps.Targets.GetTarget(ctx, job.TargetID)
	if err != nil {
		e.fail(ctx, jobID, job.TargetID, fmt.Sprintf("target %s not found", job.TargetID))
		return fmt.Errorf("load target %s: %w", job.TargetID, err)
	}
	if err := e.deps.Jobs.MarkCrawlJobRunning(ctx, jobID); err != nil && !errors.Is(err, pipeline.ErrNotFound) {
		return fmt.Errorf("mark crawl job running: %w", err)
	}

	root, err := url.Parse(target.Website)
	if err != nil || root.Host == "" || (root.Scheme != "http" && root.Scheme != "https") {
		msg := fmt.Sprintf("invalid website url %q", target.Website)
		e.fail(ctx, jobID, target.ID, msg)
		return errors.New(msg)
	}

	logger := e.logger.With(zap.String("job_id", jobID), zap.String("target_id", target.ID))
	logger.Info("crawl started", zap.String("website", target.Website))

	progress, err := e.crawl(ctx, logger, jobID, target, root)
	if err != nil {
		e.fail(ctx, jobID, target.ID, err.Error())
		return err
	}

	now := e.deps.Clock.Now()
	if err := e.deps.Targets.MarkTargetCrawled(ctx, target.ID, now); err != nil {
		logger.Warn("mark target crawled failed", zap.Error(err))
	}
	progress.Progress = 100
	progress.CurrentURL = ""
	if err := e.deps.Jobs.UpdateCrawlProgress(ctx, jobID, progress); err != nil {
		logger.Warn("final progress write failed", zap.Error(err))
	}
	if err := e.deps.Jobs.CompleteCrawlJob(ctx, jobID, pipeline.JobStatusCompleted, ""); err != nil {
		return fmt.Errorf("complete crawl job: %w", err)
	}
	metrics.ObserveJob(string(pipeline.JobKindCrawl), string(pipeline.JobStatusCompleted))
	e.publish(ctx, TopicCrawlCompleted, map[string]any{
		"job_id":        jobID,
		"target_id":     target.ID,
		"pages_crawled": progress.PagesCrawled,
		"stats":         progress.Stats,
	})
	logger.Info("crawl completed",
		zap.Int("pages_crawled", progress.PagesCrawled),
		zap.Int("admission_pages", progress.Stats.AdmissionPages),
		zap.Int("placement_pages", progress.Stats.PlacementPages),
		zap.Int("internship_pages", progress.Stats.InternshipPages),
	)
	return nil
}

func (e *Engine) crawl(ctx context.Context, logger *zap.Logger, jobID string, target pipeline.Target, root *url.URL) (pipeline.CrawlProgress, error) {
	var progress pipeline.CrawlProgress

	frontier := []frontierEntry{{url: root.String(), depth: 0}}
	visited := map[string]struct{}{root.String(): {}}

	for len(frontier) > 0 && progress.PagesCrawled < e.cfg.MaxPages {
		entry := frontier[0]
		frontier = frontier[1:]

		if err := e.limiter.Wait(ctx); err != nil {
			return progress, fmt.Errorf("crawl canceled: %w", err)
		}

		resp, ok := e.fetchPage(ctx, logger, entry.url)
		if !ok {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
		if err != nil {
			logger.Debug("unparsable page skipped", zap.String("url", entry.url), zap.Error(err))
			continue
		}

		category := Classify(resp.URL, doc)
		progress.PagesCrawled++
		switch category {
		case pipeline.CategoryAdmission:
			progress.Stats.AdmissionPages++
		case pipeline.CategoryPlacement:
			progress.Stats.PlacementPages++
		case pipeline.CategoryInternship:
			progress.Stats.InternshipPages++
		default:
			progress.Stats.OtherPages++
		}

		if e.storePage(ctx, logger, target, resp, category) {
			progress.PagesProcessed++
		}
		metrics.ObservePage(resp.URL, string(category), resp.Duration)

		progress.Progress = min(100, progress.PagesCrawled*100/e.cfg.MaxPages)
		progress.CurrentURL = entry.url
		if err := e.deps.Jobs.UpdateCrawlProgress(ctx, jobID, progress); err != nil {
			logger.Warn("progress write failed", zap.Error(err))
		}

		if entry.depth >= e.cfg.MaxDepth {
			continue
		}
		pageURL, err := url.Parse(resp.URL)
		if err != nil {
			pageURL = root
		}
		for _, link := range ExtractLinks(pageURL, doc) {
			if _, seen := visited[link]; seen {
				continue
			}
			visited[link] = struct{}{}
			frontier = append(frontier, frontierEntry{url: link, depth: entry.depth + 1})
		}
	}
	return progress, nil
}

// fetchPage fetches one URL, promoting to a browser render when the plain
// body looks like an empty client-side shell. A false return means the page
// is skipped without failing the job.
func (e *Engine) fetchPage(ctx context.Context, logger *zap.Logger, pageURL string) (pipeline.FetchResponse, bool) {
	resp, err := e.deps.Fetcher.Fetch(ctx, pipeline.FetchRequest{URL: pageURL})
	if err != nil {
		logger.Debug("fetch failed, page skipped", zap.String("url", pageURL), zap.Error(err))
		return pipeline.FetchResponse{}, false
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Debug("non-success status, page skipped",
			zap.String("url", pageURL), zap.Int("status", resp.StatusCode))
		return pipeline.FetchResponse{}, false
	}
	if resp.ContentType != "" && !strings.Contains(strings.ToLower(resp.ContentType), "text/html") {
		logger.Debug("non-html content skipped",
			zap.String("url", pageURL), zap.String("content_type", resp.ContentType))
		return pipeline.FetchResponse{}, false
	}

	if e.deps.Renderer != nil && e.deps.Detector != nil && e.deps.Detector.NeedsRendering(resp.Body) {
		rendered, err := e.deps.Renderer.Fetch(ctx, pipeline.FetchRequest{URL: pageURL})
		if err != nil {
			logger.Debug("render failed, using plain body", zap.String("url", pageURL), zap.Error(err))
		} else if rendered.StatusCode >= 200 && rendered.StatusCode < 300 {
			rendered.Duration += resp.Duration
			resp = rendered
		}
	}
	return resp, true
}

// storePage persists one classified page plus its blob snapshot. Snapshot
// failures are logged and the page is still stored; a store failure drops
// the page from the processed count only.
func (e *Engine) storePage(ctx context.Context, logger *zap.Logger, target pipeline.Target, resp pipeline.FetchResponse, category pipeline.Category) bool {
	snapshotURI := e.archiveSnapshot(ctx, logger, target.ID, resp)

	id, err := e.deps.IDs.NewID()
	if err != nil {
		logger.Warn("content id generation failed", zap.Error(err))
		return false
	}
	content := pipeline.RawContent{
		ID:          id,
		TargetID:    target.ID,
		URL:         resp.URL,
		Category:    category,
		Content:     string(resp.Body),
		Format:      "html",
		SnapshotURI: snapshotURI,
		ExtractedAt: e.deps.Clock.Now(),
	}
	if _, err := e.deps.Contents.StoreRawContent(ctx, content); err != nil {
		logger.Warn("raw content store failed", zap.String("url", resp.URL), zap.Error(err))
		return false
	}
	return true
}

func (e *Engine) archiveSnapshot(ctx context.Context, logger *zap.Logger, targetID string, resp pipeline.FetchResponse) string {
	if e.deps.Archive == nil || e.deps.Hasher == nil {
		return ""
	}
	digest, err := e.deps.Hasher.Hash(resp.Body)
	if err != nil {
		logger.Warn("snapshot hash failed", zap.Error(err))
		return ""
	}
	uri, err := e.deps.Archive.PutObject(ctx, targetID+"/"+digest+".html", "text/html", resp.Body)
	if err != nil {
		logger.Warn("snapshot archive failed", zap.String("url", resp.URL), zap.Error(err))
		return ""
	}
	return uri
}

func (e *Engine) fail(ctx context.Context, jobID, targetID, msg string) {
	if err := e.deps.Jobs.CompleteCrawlJob(ctx, jobID, pipeline.JobStatusFailed, msg); err != nil {
		e.logger.Warn("failed-status write failed", zap.String("job_id", jobID), zap.Error(err))
	}
	metrics.ObserveJob(string(pipeline.JobKindCrawl), string(pipeline.JobStatusFailed))
	e.publish(ctx, TopicJobFailed, map[string]any{
		"job_id":    jobID,
		"target_id": targetID,
		"job_kind":  pipeline.JobKindCrawl,
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
