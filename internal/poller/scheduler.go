package poller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind tells the consumer what a source's payload feeds.
type Kind string

const (
	// KindMarkers sources produce tuple arrays for the marker map.
	KindMarkers Kind = "markers"

	// KindGrid sources produce record arrays for a grid.
	KindGrid Kind = "grid"
)

// PayloadExtractor selects the payload from a response body.
type PayloadExtractor func(body []byte) ([]byte, error)

// SourceInfo contains the configuration needed to poll a single source.
type SourceInfo struct {
	// Name identifies the source. Names must be unique within a scheduler.
	Name string

	// Kind is what the payload feeds.
	Kind Kind

	// URL is the target URL to poll.
	URL string

	// Headers contains custom HTTP headers to send with requests.
	Headers map[string]string

	// Timeout is the per-request timeout duration.
	Timeout time.Duration

	// Extractor selects the payload from the body.
	// If nil, the whole body is the payload.
	Extractor PayloadExtractor

	// Method is the HTTP method. Empty defaults to GET.
	Method string

	// Interval is the polling interval for this source.
	// If 0, the scheduler's global interval is used.
	Interval time.Duration
}

// FetchResult holds the outcome of polling a single source.
type FetchResult struct {
	// Source is the name of the polled source.
	Source string

	// Kind is copied from the source.
	Kind Kind

	// URL is the target URL that was polled.
	URL string

	// Seq increases by one for every poll issued for this source, starting
	// at 1.
	Seq uint64

	// Payload is the extracted payload. nil when Error is set.
	Payload []byte

	// StatusCode is the HTTP status code returned by the source.
	StatusCode int

	// Latency is the time taken to complete the HTTP request.
	Latency time.Duration

	// FetchedAt is the timestamp when the poll completed.
	FetchedAt time.Time

	// Error contains any error that occurred during polling or extraction.
	Error error
}

// Scheduler manages periodic polling of multiple sources.
//
// The scheduler polls all sources immediately on start, then ticks at the
// GCD of all source intervals and polls only sources that are due. A round
// runs to completion before the next tick is read, so a slow round swallows
// the ticks that fire meanwhile instead of queueing them.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Scheduler struct {
	sources        []SourceInfo
	interval       time.Duration // global default interval
	maxConcurrency int
	client         *Client
	results        chan FetchResult
	logger         *slog.Logger
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup

	mu        sync.Mutex
	started   bool
	stopped   bool
	closeOnce sync.Once

	// per-source timing and sequencing for the tick-and-check pattern
	lastPolledAt map[string]time.Time
	seq          map[string]uint64
	baseInterval time.Duration
}

// NewScheduler creates a new polling [Scheduler].
//
// Parameters:
//   - sources: List of sources to poll
//   - interval: Default time between polls of a source
//   - maxConcurrency: Maximum number of concurrent HTTP requests
//   - logger: Logger for scheduler events (panic recovery, etc.)
//
// The scheduler must be started with [Scheduler.Start] and stopped with
// [Scheduler.Stop]. Results are available via [Scheduler.Results].
func NewScheduler(sources []SourceInfo, interval time.Duration, maxConcurrency int, logger *slog.Logger) *Scheduler {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sources:        sources,
		interval:       interval,
		maxConcurrency: maxConcurrency,
		client:         NewClient(),
		results:        make(chan FetchResult, len(sources)),
		logger:         logger,
		seq:            make(map[string]uint64, len(sources)),
	}
}

// Results returns a receive-only channel that emits [FetchResult] values.
//
// The channel is closed when the scheduler stops. Consumers should read from
// this channel until it is closed to receive all poll results.
func (s *Scheduler) Results() <-chan FetchResult {
	return s.results
}

// calculateBaseInterval returns the GCD of all source intervals, floored at
// one second.
func (s *Scheduler) calculateBaseInterval() time.Duration {
	if len(s.sources) == 0 {
		return s.interval
	}

	result := s.intervalOf(s.sources[0])
	for _, src := range s.sources[1:] {
		result = gcdDuration(result, s.intervalOf(src))
	}

	// floor at 1 second to prevent CPU thrashing
	if result < time.Second {
		result = time.Second
	}

	return result
}

func (s *Scheduler) intervalOf(src SourceInfo) time.Duration {
	if src.Interval > 0 {
		return src.Interval
	}
	return s.interval
}

// gcdDuration calculates the greatest common divisor of two durations.
func gcdDuration(a, b time.Duration) time.Duration {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Start begins the polling loop in a background goroutine.
//
// Start is non-blocking and returns immediately. The scheduler will:
//  1. Poll all sources immediately
//  2. Tick at the GCD of all source intervals
//  3. Poll only sources that are due on each tick
//  4. Continue until [Scheduler.Stop] is called or the context is cancelled
//
// If ctx is nil, context.Background() is used as the parent context.
// Start is idempotent; subsequent calls after the first are no-ops.
// If Stop was called before Start, Start is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.lastPolledAt = make(map[string]time.Time, len(s.sources))
	s.baseInterval = s.calculateBaseInterval()

	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	pollCtx := s.ctx // capture under lock to avoid race
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.closeOnce.Do(func() { close(s.results) })

		s.pollDueSources(pollCtx, true)

		ticker := time.NewTicker(s.baseInterval)
		defer ticker.Stop()

		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				s.pollDueSources(pollCtx, false)
			}
		}
	}()
}

// Stop halts the scheduler and waits for all goroutines to complete.
//
// Stop cancels the scheduler's context, which also aborts in-flight requests,
// and blocks until the polling loop exits and the results channel is closed.
//
// Stop is idempotent and safe to call multiple times. Calling Stop before
// Start is a safe no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()

	if s.client != nil {
		s.client.Close()
	}

	// ensure channel is closed even if Start() was never called
	s.closeOnce.Do(func() { close(s.results) })
}

// job is one fetch to issue, with its sequence number assigned up front.
type job struct {
	src SourceInfo
	seq uint64
}

// pollDueSources polls only sources that are due based on their intervals.
// If immediate is true, polls all sources regardless of timing.
//
// lastPolledAt is updated when a poll starts, so the effective interval of a
// slow source is its configured interval plus the poll duration.
func (s *Scheduler) pollDueSources(ctx context.Context, immediate bool) {
	now := time.Now()
	due := make([]job, 0, len(s.sources))

	s.mu.Lock()
	for _, src := range s.sources {
		lastPolled, exists := s.lastPolledAt[src.Name]
		if immediate || !exists || now.Sub(lastPolled) >= s.intervalOf(src) {
			s.lastPolledAt[src.Name] = now
			s.seq[src.Name]++
			due = append(due, job{src: src, seq: s.seq[src.Name]})
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}

	s.pollSources(ctx, due)
}

// pollSources polls a subset of sources concurrently, respecting
// maxConcurrency, and returns once every result is delivered.
func (s *Scheduler) pollSources(ctx context.Context, jobs []job) {
	queue := make(chan job, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < s.maxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range queue {
				result := s.pollSource(ctx, j)
				select {
				case s.results <- result:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for _, j := range jobs {
		select {
		case queue <- j:
		case <-ctx.Done():
			close(queue)
			wg.Wait()
			return
		}
	}
	close(queue)

	wg.Wait()
}

// pollSource fetches a single source and extracts its payload.
func (s *Scheduler) pollSource(ctx context.Context, j job) FetchResult {
	src := j.src
	resp := s.client.Fetch(ctx, Request{
		Method:  src.Method,
		URL:     src.URL,
		Headers: src.Headers,
		Timeout: src.Timeout,
	})

	result := FetchResult{
		Source:     src.Name,
		Kind:       src.Kind,
		URL:        src.URL,
		Seq:        j.seq,
		StatusCode: resp.StatusCode,
		Latency:    resp.Latency,
		FetchedAt:  time.Now(),
	}

	switch err := resp.Err(); {
	case err != nil:
		result.Error = err
	case src.Extractor == nil:
		result.Payload = resp.Body
	default:
		result.Payload, result.Error = s.safeExtract(src.Extractor, resp.Body)
	}

	if result.Error != nil {
		result.Payload = nil
	}
	return result
}

// safeExtract calls the extractor with panic recovery.
// If the extractor panics, it logs the full stack trace with a correlation ID
// and returns an error containing the ID.
func (s *Scheduler) safeExtract(extractor PayloadExtractor, body []byte) (payload []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			stack := debug.Stack()

			s.logger.Error("extractor panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(stack),
			)

			payload = nil
			err = fmt.Errorf("extractor panic (correlation_id: %s)", correlationID)
		}
	}()
	return extractor(body)
}
