package pipeline

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrNotFound is returned by stores when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned by stores when a create collides with an
// existing record id.
var ErrAlreadyExists = errors.New("record already exists")

// TargetStore persists crawl targets.
type TargetStore interface {
	CreateTarget(ctx context.Context, target Target) error
	GetTarget(ctx context.Context, id string) (Target, error)
	ListTargets(ctx context.Context, limit, offset int) ([]Target, error)
	MarkTargetCrawled(ctx context.Context, id string, at time.Time) error
}

// CrawlJobStore persists crawl job records.
type CrawlJobStore interface {
	CreateCrawlJob(ctx context.Context, job CrawlJob) error
	GetCrawlJob(ctx context.Context, id string) (CrawlJob, error)
	ListQueuedCrawlJobs(ctx context.Context, limit int) ([]CrawlJob, error)
	MarkCrawlJobRunning(ctx context.Context, id string) error
	UpdateCrawlProgress(ctx context.Context, id string, progress CrawlProgress) error
	CompleteCrawlJob(ctx context.Context, id string, status JobStatus, errMsg string) error
}

// AIJobStore persists extraction job records.
type AIJobStore interface {
	CreateAIJob(ctx context.Context, job AIJob) error
	GetAIJob(ctx context.Context, id string) (AIJob, error)
	ListQueuedAIJobs(ctx context.Context, limit int) ([]AIJob, error)
	MarkAIJobRunning(ctx context.Context, id string) error
	RecordAIJobResult(ctx context.Context, id string, result AIJobResult) error
	CompleteAIJob(ctx context.Context, id string, status JobStatus, errMsg string) error
}

// ContentStore persists raw fetched pages. The core never deletes rows;
// deletion belongs to external collaborators.
type ContentStore interface {
	StoreRawContent(ctx context.Context, content RawContent) (string, error)
	GetRawContent(ctx context.Context, id string) (RawContent, error)
	GetRawContentByURL(ctx context.Context, targetID, url string) (RawContent, error)
	ListUnprocessedContent(ctx context.Context, limit, maxAttempts int, category Category) ([]RawContent, error)
	MarkContentProcessed(ctx context.Context, id string) error
	RecordProcessingFailure(ctx context.Context, id, errMsg string) error
}

// Queue provides enqueue/dequeue semantics for job references.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	Size() int
}

// FetchRequest captures everything needed to fetch one URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// Fetcher fetches a single URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Generator produces text from a prompt via the shared language model.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	ModelName() string
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, data []byte) (string, error)
}

// Publisher pushes lifecycle events to interested collaborators.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for snapshot naming and deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (swappable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
