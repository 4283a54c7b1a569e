// Package pipeline defines the core types shared across the crawl and
// extraction subsystems: targets, job records, raw content, and the narrow
// interfaces the engines and worker pools are built against.
package pipeline

import "time"

// JobStatus represents the lifecycle state of a crawl or extraction job.
type JobStatus string

// Job status values persisted in the job stores. Transitions are monotonic:
// queued -> running -> completed|failed.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether a status ends the job lifecycle.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Category classifies a fetched page or an extraction job's content.
type Category string

// Content categories assigned by the crawler's classifier.
const (
	CategoryAdmission  Category = "admission"
	CategoryPlacement  Category = "placement"
	CategoryInternship Category = "internship"
	CategoryGeneral    Category = "general"
)

// JobKind distinguishes the two job pipelines.
type JobKind string

// Job kinds carried on queue items.
const (
	JobKindCrawl      JobKind = "crawl"
	JobKindExtraction JobKind = "extraction"
)

// Target is a college website registered for crawling. The core treats it as
// read-only apart from stamping the last-crawled time.
type Target struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Website     string     `json:"website"`
	Domain      string     `json:"domain"`
	LastCrawled *time.Time `json:"last_crawled,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// JobError is one entry in a job's ordered error list.
type JobError struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// CrawlStats tracks per-category page counts for one crawl run.
type CrawlStats struct {
	AdmissionPages  int `json:"admission_pages"`
	PlacementPages  int `json:"placement_pages"`
	InternshipPages int `json:"internship_pages"`
	OtherPages      int `json:"other_pages"`
}

// CrawlJob is the durable record tracking one crawl run over a target.
type CrawlJob struct {
	ID              string     `json:"id"`
	TargetID        string     `json:"target_id"`
	JobType         string     `json:"job_type"`
	Status          JobStatus  `json:"status"`
	TriggeredBy     string     `json:"triggered_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	PagesCrawled    int        `json:"pages_crawled"`
	PagesProcessed  int        `json:"pages_processed"`
	Progress        int        `json:"progress_percentage"`
	CurrentURL      string     `json:"current_url,omitempty"`
	Stats           CrawlStats `json:"crawling_stats"`
	Errors          []JobError `json:"errors,omitempty"`
}

// CrawlProgress is the incremental progress snapshot the crawler writes after
// each processed URL.
type CrawlProgress struct {
	PagesCrawled   int
	PagesProcessed int
	Progress       int
	CurrentURL     string
	Stats          CrawlStats
}

// AIJob is the durable record tracking one extraction run over one
// RawContent document.
type AIJob struct {
	ID              string     `json:"id"`
	TargetID        string     `json:"target_id"`
	RawContentID    string     `json:"raw_content_id"`
	Category        Category   `json:"category"`
	Status          JobStatus  `json:"status"`
	TriggeredBy     string     `json:"triggered_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	ModelName       string     `json:"model_name,omitempty"`
	Confidence      float64    `json:"confidence_score"`
	ResultID        string     `json:"result_id,omitempty"`
	Prompt          string     `json:"prompt,omitempty"`
	RawResponse     string     `json:"raw_response,omitempty"`
	Errors          []JobError `json:"errors,omitempty"`
}

// AIJobResult carries everything the extraction engine records on a
// completed job.
type AIJobResult struct {
	ModelName   string
	Confidence  float64
	ResultID    string
	Prompt      string
	RawResponse string
}

// RawContent is one fetched page: raw payload plus the crawler's
// classification and the extraction pipeline's processing bookkeeping.
type RawContent struct {
	ID             string     `json:"id"`
	TargetID       string     `json:"target_id"`
	URL            string     `json:"url"`
	Category       Category   `json:"category"`
	Content        string     `json:"-"`
	Format         string     `json:"content_format"`
	SnapshotURI    string     `json:"snapshot_uri,omitempty"`
	ExtractedAt    time.Time  `json:"extraction_date"`
	Processed      bool       `json:"processed"`
	Attempts       int        `json:"processing_attempts"`
	LastAttempt    *time.Time `json:"last_processing_attempt,omitempty"`
	ProcessingErr  string     `json:"processing_error,omitempty"`
}

// QueueItem wraps a job reference ready to be picked up by a worker.
type QueueItem struct {
	JobID     string
	TargetID  string
	Kind      JobKind
	Submitted int64
}
