// Package downloader fetches a batch of package archives concurrently,
// falling back across each job's mirror list on failure, and reports live
// progress without letting partially written files survive a failed job.
package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aurora-pkg/aurora/pkg/telemetry"
)

// Job describes one file to fetch, with an ordered list of mirror URLs to
// try in turn.
type Job struct {
	URLs        []string
	Destination string
	DisplayName string

	totalBytes      int64
	downloadedBytes int64
	speedBPS        int64
	finished        int32
	mu              sync.Mutex
	errorMessage    string
}

// TotalBytes returns the job's expected size, or 0 if unknown.
func (j *Job) TotalBytes() int64 { return atomic.LoadInt64(&j.totalBytes) }

// DownloadedBytes returns the number of bytes written so far.
func (j *Job) DownloadedBytes() int64 { return atomic.LoadInt64(&j.downloadedBytes) }

// SpeedBPS returns the most recently computed throughput, in bytes/sec.
func (j *Job) SpeedBPS() int64 { return atomic.LoadInt64(&j.speedBPS) }

// Finished reports whether the job has stopped running, successfully or not.
func (j *Job) Finished() bool { return atomic.LoadInt32(&j.finished) != 0 }

// ErrorMessage returns the last error's message, or "" on success.
func (j *Job) ErrorMessage() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.errorMessage
}

func (j *Job) setError(msg string) {
	j.mu.Lock()
	j.errorMessage = msg
	j.mu.Unlock()
}

// Downloader fetches batches of Jobs over HTTP.
type Downloader struct {
	client   *http.Client
	metrics  *telemetry.Metrics
	logger   *telemetry.Logger
	progress func([]*Job)
}

// New creates a Downloader. metrics and logger may be nil.
func New(metrics *telemetry.Metrics, logger *telemetry.Logger) *Downloader {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Downloader{
		client:  &http.Client{},
		metrics: metrics,
		logger:  logger.NewComponentLogger("downloader"),
	}
}

// SetProgressFunc installs the callback DownloadAll invokes on a ticking
// goroutine, at most once every 500ms, with the live state of every job in
// the current batch.
func (d *Downloader) SetProgressFunc(progress func([]*Job)) {
	d.progress = progress
}

// DownloadAll fetches every job concurrently, bounded by a worker pool sized
// to GOMAXPROCS, invoking the installed progress callback no more often
// than every 500ms. It returns true iff every job completed successfully;
// any job that ultimately fails has its destination file removed.
func (d *Downloader) DownloadAll(ctx context.Context, jobs []*Job) (bool, error) {
	if len(jobs) == 0 {
		return true, nil
	}

	stopProgress := d.startProgressTicker(ctx, jobs)
	defer stopProgress()

	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	queue := make(chan *Job, len(jobs))
	for _, j := range jobs {
		queue <- j
	}
	close(queue)

	var wg sync.WaitGroup
	var allOK atomic.Bool
	allOK.Store(true)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				if err := d.runJob(ctx, job); err != nil {
					allOK.Store(false)
					job.setError(err.Error())
					_ = os.Remove(job.Destination)
					d.logger.WithError(err).Warnf("download failed for %s", job.DisplayName)
					if d.metrics != nil {
						d.metrics.RecordDownloadOutcome(false)
					}
				} else if d.metrics != nil {
					d.metrics.RecordDownloadOutcome(true)
				}
				atomic.StoreInt32(&job.finished, 1)
			}
		}()
	}

	wg.Wait()

	return allOK.Load(), nil
}

// runJob races a job's mirrors in order, streaming the winning response into
// Destination. Each failed attempt truncates the partially written file
// before the next mirror is tried.
func (d *Downloader) runJob(ctx context.Context, job *Job) error {
	if len(job.URLs) == 0 {
		return fmt.Errorf("job %s has no mirror URLs", job.DisplayName)
	}

	var lastErr error
	for _, url := range job.URLs {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := d.attempt(ctx, job, url)
		if err == nil {
			return nil
		}
		lastErr = err
		truncateDestination(job.Destination)
	}

	return fmt.Errorf("all mirrors failed for %s: %w", job.DisplayName, lastErr)
}

func (d *Downloader) attempt(ctx context.Context, job *Job, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	if resp.ContentLength > 0 {
		atomic.StoreInt64(&job.totalBytes, resp.ContentLength)
	}

	out, err := os.OpenFile(job.Destination, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	counter := &countingWriter{w: out, job: job}
	if _, err := io.Copy(counter, resp.Body); err != nil {
		return err
	}

	return nil
}

// countingWriter tees bytes written to the destination file into the job's
// atomic DownloadedBytes counter.
type countingWriter struct {
	w   *os.File
	job *Job
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		atomic.AddInt64(&c.job.downloadedBytes, int64(n))
	}
	return n, err
}

func truncateDestination(path string) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_ = f.Close()
}

// startProgressTicker runs d.progress on a ticker no more often than every
// 500ms, computing SpeedBPS from the byte delta over each window. It
// returns a stop function.
func (d *Downloader) startProgressTicker(ctx context.Context, jobs []*Job) func() {
	if d.progress == nil {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		prev := make(map[*Job]int64, len(jobs))
		for _, j := range jobs {
			prev[j] = 0
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				for _, j := range jobs {
					cur := j.DownloadedBytes()
					delta := cur - prev[j]
					prev[j] = cur
					speed := delta * 2 // per-second rate over the 500ms window
					atomic.StoreInt64(&j.speedBPS, speed)
					if d.metrics != nil {
						d.metrics.SetDownloadThroughput(j.DisplayName, float64(speed))
					}
				}
				d.progress(jobs)
			}
		}
	}()

	return func() { close(done) }
}

// TotalDownloadSize probes each job's first URL with a HEAD request and sums
// Content-Length across all jobs. Returns -1 if any probe fails.
func (d *Downloader) TotalDownloadSize(ctx context.Context, jobs []*Job) (int64, error) {
	var total int64
	for _, job := range jobs {
		if len(job.URLs) == 0 {
			return -1, fmt.Errorf("job %s has no mirror URLs", job.DisplayName)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, job.URLs[0], nil)
		if err != nil {
			return -1, nil
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return -1, nil
		}
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 || resp.ContentLength < 0 {
			return -1, nil
		}
		total += resp.ContentLength
	}

	return total, nil
}
