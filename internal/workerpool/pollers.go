package workerpool

import (
	"context"

	"github.com/collegedata/crawler/internal/pipeline"
)

// CrawlPoller adapts a crawl job store to the pool's PollFunc.
func CrawlPoller(store pipeline.CrawlJobStore) PollFunc {
	return func(ctx context.Context, limit int) ([]pipeline.QueueItem, error) {
		jobs, err := store.ListQueuedCrawlJobs(ctx, limit)
		if err != nil {
			return nil, err
		}
		items := make([]pipeline.QueueItem, 0, len(jobs))
		for _, job := range jobs {
			items = append(items, pipeline.QueueItem{
				JobID:     job.ID,
				TargetID:  job.TargetID,
				Kind:      pipeline.JobKindCrawl,
				Submitted: job.CreatedAt.Unix(),
			})
		}
		return items, nil
	}
}

// ExtractionPoller adapts an extraction job store to the pool's PollFunc.
func ExtractionPoller(store pipeline.AIJobStore) PollFunc {
	return func(ctx context.Context, limit int) ([]pipeline.QueueItem, error) {
		jobs, err := store.ListQueuedAIJobs(ctx, limit)
		if err != nil {
			return nil, err
		}
		items := make([]pipeline.QueueItem, 0, len(jobs))
		for _, job := range jobs {
			items = append(items, pipeline.QueueItem{
				JobID:     job.ID,
				TargetID:  job.TargetID,
				Kind:      pipeline.JobKindExtraction,
				Submitted: job.CreatedAt.Unix(),
			})
		}
		return items, nil
	}
}

// CrawlFailer adapts a crawl job store to the pool's FailFunc.
func CrawlFailer(store pipeline.CrawlJobStore) FailFunc {
	return func(ctx context.Context, jobID, msg string) error {
		return store.CompleteCrawlJob(ctx, jobID, pipeline.JobStatusFailed, msg)
	}
}

// ExtractionFailer adapts an extraction job store to the pool's FailFunc.
func ExtractionFailer(store pipeline.AIJobStore) FailFunc {
	return func(ctx context.Context, jobID, msg string) error {
		return store.CompleteAIJob(ctx, jobID, pipeline.JobStatusFailed, msg)
	}
}
