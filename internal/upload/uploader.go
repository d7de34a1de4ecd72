package upload

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ochronus/goskynet/internal/app"
	"github.com/ochronus/goskynet/internal/retry"
	"github.com/ochronus/goskynet/skynet"
	"github.com/sirupsen/logrus"
)

// Uploader sends jobs through one shared Skynet client with a fixed number
// of workers, retrying each upload per its retry policy.
type Uploader struct {
	client  skynet.ClientAPI
	workers int
	policy  retry.Policy
	logger  *logrus.Logger
}

// NewUploader creates an uploader from the container's client and config
func NewUploader(container *app.Container) *Uploader {
	cfg := container.Config

	workers := cfg.UploadWorkers
	if workers < 1 {
		workers = 1
	}

	return &Uploader{
		client:  container.Client,
		workers: workers,
		policy: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
		},
		logger: container.Logger,
	}
}

// Run uploads every job and returns one result per job, in job order.
// Jobs not yet started when ctx is canceled are reported as canceled.
func (u *Uploader) Run(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	jobChan := make(chan int)

	var wg sync.WaitGroup
	for i := 0; i < u.workers; i++ {
		wg.Add(1)
		go u.worker(ctx, &wg, jobs, jobChan, results)
	}

	for i := range jobs {
		jobChan <- i
	}
	close(jobChan)
	wg.Wait()

	return results
}

// worker handles uploads
func (u *Uploader) worker(ctx context.Context, wg *sync.WaitGroup, jobs []Job, jobChan <-chan int, results []Result) {
	defer wg.Done()

	for idx := range jobChan {
		job := jobs[idx]
		if err := ctx.Err(); err != nil {
			results[idx] = Result{Job: job, Status: StatusCanceled, Err: err}
			continue
		}
		results[idx] = u.uploadJob(ctx, job)
	}
}

// uploadJob uploads a single job, reopening the file on every attempt
func (u *Uploader) uploadJob(ctx context.Context, job Job) Result {
	u.logger.Infof("%s: upload started (%s)", job, humanize.Bytes(uint64(job.Size)))

	var resp *skynet.Response
	attempts, err := retry.Do(ctx, u.policy, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			u.logger.Warnf("%s: retrying upload, attempt %d", job, attempt+1)
		}

		file, closer, err := skynet.OpenFile(job.Path)
		if err != nil {
			return err
		}
		defer closer.Close()
		file.Name = job.Name

		resp, err = u.client.UploadFile(ctx, file)
		return err
	})

	result := Result{Job: job, Attempts: attempts, Err: err}
	switch {
	case err == nil:
		result.Status = StatusSuccess
		result.Skylink = resp.Skylink
		result.URL = u.client.SkylinkURL(resp.Skylink)
		u.logger.Infof("%s: upload succeeded: %s", job, resp.Skylink)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		result.Status = StatusCanceled
		u.logger.Warnf("%s: upload canceled", job)
	default:
		result.Status = StatusFailed
		u.logger.Errorf("%s: upload failed after %d attempt(s): %v", job, attempts, err)
	}
	return result
}
