package pipeline

import (
	"context"
	"fmt"
	"time"

	"tiler/internal/kv"
	"tiler/internal/logging"
	"tiler/internal/metrics"
	"tiler/internal/pyramid"
	"tiler/internal/queue"
	"tiler/internal/tiles"
)

// DefaultGiveUpThreshold is the number of finished jobs below which a
// preparation that hit the wait ceiling is considered given up.
const DefaultGiveUpThreshold = 3

// Outcome is the result of PrepareAll.
type Outcome struct {
	FileID string `json:"fileid"`
	Zooms  []int  `json:"zooms"`
	// GaveUp: the wait ceiling was hit and fewer than GiveUpThreshold jobs
	// had finished.
	GaveUp bool `json:"gave_up"`
	// Partial: the wait ceiling was hit but enough jobs had finished; the
	// remaining ones keep running and FollowUp is invoked when they settle.
	Partial bool          `json:"partial"`
	Done    int           `json:"done"`
	Total   int           `json:"total"`
	Waited  time.Duration `json:"waited"`
}

func (o Outcome) label() string {
	switch {
	case o.GaveUp:
		return "gave_up"
	case o.Partial:
		return "partial"
	default:
		return "complete"
	}
}

// SchedulerConfig configures a Scheduler. Zero values use the defaults.
type SchedulerConfig struct {
	MinZoom         int
	WaitUnit        time.Duration
	WaitCeiling     int
	GiveUpThreshold int
	// Optimize enqueues the optimize passes.
	Optimize bool
	// JobTimeout is copied into every spec; 0 leaves the queue default.
	JobTimeout time.Duration
}

// Scheduler enqueues and tracks the jobs of one pyramid preparation.
type Scheduler struct {
	queue  queue.Queue
	lock   *kv.UploadLock
	counts *kv.TileCountCache
	config SchedulerConfig

	// FollowUp, when set, is called once the jobs still pending after a
	// partial preparation have all settled.
	FollowUp func(fileid string, done, total int)

	sleep func(ctx context.Context, d time.Duration) error
}

// NewScheduler returns a Scheduler. lock and counts may be nil.
func NewScheduler(q queue.Queue, lock *kv.UploadLock, counts *kv.TileCountCache, config SchedulerConfig) *Scheduler {
	if config.GiveUpThreshold <= 0 {
		config.GiveUpThreshold = DefaultGiveUpThreshold
	}
	return &Scheduler{queue: q, lock: lock, counts: counts, config: config, sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PrepareAll enqueues the full pyramid of fileid and waits for it. zooms
// is the image range; its first entry is the default zoom. The returned
// error is only set for invalid input, enqueue failures or cancellation;
// an incomplete pyramid is reported through the Outcome.
func (s *Scheduler) PrepareAll(ctx context.Context, fileid, sourcePath string, zooms []int, ext string) (Outcome, error) {
	outcome := Outcome{FileID: fileid, Zooms: zooms}
	if len(zooms) == 0 {
		return outcome, fmt.Errorf("%w: no zoom levels for %s", pyramid.ErrInvalidInput, fileid)
	}

	awaited, err := s.enqueue(ctx, fileid, sourcePath, zooms, ext)
	if err != nil {
		metrics.SchedulerRunsTotal.WithLabelValues("error").Inc()
		return outcome, err
	}
	outcome.Total = len(awaited)

	if s.lock != nil {
		if err := s.lock.Lock(ctx, fileid); err != nil {
			logging.Warn("prepare %s: %v", fileid, err)
		}
	}

	start := time.Now()
	outcome.Done, err = s.wait(ctx, awaited)
	outcome.Waited = time.Since(start)
	metrics.SchedulerWaitSeconds.Observe(outcome.Waited.Seconds())
	if err != nil {
		metrics.SchedulerRunsTotal.WithLabelValues("error").Inc()
		return outcome, err
	}

	if outcome.Done < outcome.Total {
		if outcome.Done < s.config.GiveUpThreshold {
			outcome.GaveUp = true
			logging.Warn("prepare %s: gave up with %d of %d jobs done", fileid, outcome.Done, outcome.Total)
		} else {
			outcome.Partial = true
			logging.Info("prepare %s: %d of %d jobs done, following up in the background", fileid, outcome.Done, outcome.Total)
			go s.followUp(fileid, awaited)
		}
	} else {
		s.invalidateCount(context.WithoutCancel(ctx), fileid)
	}

	metrics.SchedulerRunsTotal.WithLabelValues(outcome.label()).Inc()
	return outcome, nil
}

// enqueue submits every job and returns the handles whose results the
// wait phase observes. Optimize jobs are released after their producers
// and are not awaited.
func (s *Scheduler) enqueue(ctx context.Context, fileid, sourcePath string, zooms []int, ext string) ([]*queue.Handle, error) {
	var awaited []*queue.Handle
	tileJobs := make(map[int]*queue.Handle, len(zooms))

	submit := func(spec queue.Spec) (*queue.Handle, error) {
		spec.FileID = fileid
		spec.Ext = ext
		if s.config.JobTimeout > 0 {
			spec.Timeout = s.config.JobTimeout
		}
		h, err := s.queue.Enqueue(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("enqueue %s: %w", spec, err)
		}
		awaited = append(awaited, h)
		return h, nil
	}

	// zooms[0] is the default zoom: its resize and tiles share the high
	// lane. Every other zoom keeps its resize ahead of its tiles in the
	// default lane.
	for i, zoom := range zooms {
		priority := queue.PriorityDefault
		if i == 0 {
			priority = queue.PriorityHigh
		}
		if _, err := submit(queue.Spec{
			Kind:     queue.KindResize,
			Priority: priority,
			Source:   sourcePath,
			Zoom:     zoom,
		}); err != nil {
			return nil, err
		}

		// rows and cols are inclusive upper bounds
		last := pyramid.GridSize(zoom, s.config.MinZoom) - 1
		h, err := submit(queue.Spec{
			Kind:     queue.KindTiles,
			Priority: priority,
			Zoom:     zoom,
			TileSize: pyramid.TileSize,
			Rows:     last,
			Cols:     last,
		})
		if err != nil {
			return nil, err
		}
		tileJobs[zoom] = h
	}

	var thumbJobs []*queue.Handle
	for _, width := range tiles.ThumbnailWidths {
		h, err := submit(queue.Spec{
			Kind:     queue.KindThumbnail,
			Priority: queue.PriorityDefault,
			Zoom:     zooms[0],
			Width:    width,
		})
		if err != nil {
			return nil, err
		}
		thumbJobs = append(thumbJobs, h)
	}

	if !s.config.Optimize {
		return awaited, nil
	}

	// Optimize passes outlive the request that triggered them.
	bg := context.WithoutCancel(ctx)
	for _, zoom := range zooms {
		queue.EnqueueAfter(bg, s.queue, s.optimizeSpec(fileid, ext, queue.Spec{Zoom: zoom}), tileJobs[zoom])
	}
	queue.EnqueueAfter(bg, s.queue, s.optimizeSpec(fileid, ext, queue.Spec{Zoom: zooms[0], Thumbnails: true}), thumbJobs...)

	return awaited, nil
}

func (s *Scheduler) optimizeSpec(fileid, ext string, spec queue.Spec) queue.Spec {
	spec.Kind = queue.KindOptimize
	spec.Priority = queue.PriorityLow
	spec.FileID = fileid
	spec.Ext = ext
	if s.config.JobTimeout > 0 {
		spec.Timeout = s.config.JobTimeout
	}
	return spec
}

// wait sleeps with a triangular backoff until every handle has a result or
// the ceiling is passed, and returns how many have a result.
func (s *Scheduler) wait(ctx context.Context, handles []*queue.Handle) (int, error) {
	backoff := NewBackoff(s.config.WaitUnit, s.config.WaitCeiling)
	for {
		done := countResults(handles)
		if done == len(handles) {
			return done, nil
		}
		if err := s.sleep(ctx, backoff.Delay()); err != nil {
			return done, err
		}
		if !backoff.Advance() {
			return countResults(handles), nil
		}
	}
}

func countResults(handles []*queue.Handle) int {
	n := 0
	for _, h := range handles {
		if h.Result() != nil {
			n++
		}
	}
	return n
}

func (s *Scheduler) followUp(fileid string, handles []*queue.Handle) {
	for _, h := range handles {
		<-h.Done()
	}
	done := countResults(handles)
	logging.Info("prepare %s: follow-up finished with %d of %d jobs done", fileid, done, len(handles))
	s.invalidateCount(context.Background(), fileid)
	if s.FollowUp != nil {
		s.FollowUp(fileid, done, len(handles))
	}
}

func (s *Scheduler) invalidateCount(ctx context.Context, fileid string) {
	if s.counts == nil {
		return
	}
	if err := s.counts.Invalidate(ctx, fileid); err != nil {
		logging.Warn("prepare %s: failed to invalidate tile count: %v", fileid, err)
	}
}
