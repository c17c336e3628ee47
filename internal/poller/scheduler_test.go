package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func jsonServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func receive(t *testing.T, s *Scheduler) FetchResult {
	t.Helper()
	select {
	case result := <-s.Results():
		return result
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for poll result")
		return FetchResult{}
	}
}

func TestScheduler_StopBeforeStart(t *testing.T) {
	sources := []SourceInfo{{Name: "test", URL: "http://127.0.0.1:1", Timeout: time.Second}}

	scheduler := NewScheduler(sources, time.Minute, 1, testLogger())
	scheduler.Stop()

	if _, ok := <-scheduler.Results(); ok {
		t.Error("expected results channel to be closed")
	}
}

func TestScheduler_StopTwice(t *testing.T) {
	server := jsonServer(t, `[]`)
	sources := []SourceInfo{{Name: "test", URL: server.URL, Timeout: time.Second}}

	scheduler := NewScheduler(sources, time.Minute, 1, testLogger())
	scheduler.Start(context.Background())

	go func() {
		for range scheduler.Results() {
		}
	}()

	scheduler.Stop()
	scheduler.Stop()
}

func TestScheduler_StopAfterStart(t *testing.T) {
	server := jsonServer(t, `[]`)
	sources := []SourceInfo{{Name: "test", URL: server.URL, Timeout: time.Second}}

	scheduler := NewScheduler(sources, time.Minute, 1, testLogger())
	scheduler.Start(context.Background())

	_ = receive(t, scheduler)
	scheduler.Stop()

	select {
	case _, ok := <-scheduler.Results():
		if ok {
			t.Error("expected results channel to be closed after Stop()")
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for results channel to close")
	}
}

// Run with -race.
func TestScheduler_ConcurrentStartStop(t *testing.T) {
	server := jsonServer(t, `[]`)
	sources := []SourceInfo{{Name: "test", URL: server.URL, Timeout: time.Second}}

	for i := 0; i < 100; i++ {
		scheduler := NewScheduler(sources, time.Minute, 1, testLogger())

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			scheduler.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			scheduler.Stop()
		}()
		wg.Wait()

		for range scheduler.Results() {
		}
	}
}

func TestScheduler_StartTwice(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	sources := []SourceInfo{{Name: "test", URL: server.URL, Timeout: time.Second}}
	scheduler := NewScheduler(sources, time.Hour, 1, testLogger())

	scheduler.Start(context.Background())
	scheduler.Start(context.Background())

	_ = receive(t, scheduler)
	time.Sleep(50 * time.Millisecond)
	scheduler.Stop()

	if got := hits.Load(); got != 1 {
		t.Errorf("server hit %d times, want 1", got)
	}
}

func TestScheduler_StopBeforeStartThenStart(t *testing.T) {
	scheduler := NewScheduler(nil, time.Minute, 1, testLogger())

	scheduler.Stop()
	scheduler.Start(context.TODO())
	scheduler.Stop()
}

func TestScheduler_ContextCancellation(t *testing.T) {
	server := jsonServer(t, `[]`)
	sources := []SourceInfo{{Name: "test", URL: server.URL, Timeout: time.Second}}

	ctx, cancel := context.WithCancel(context.Background())
	scheduler := NewScheduler(sources, time.Minute, 1, testLogger())
	scheduler.Start(ctx)

	go func() {
		for range scheduler.Results() {
		}
	}()

	cancel()

	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Stop() did not complete after parent context cancellation")
	}
}

func TestScheduler_StopCancelsInFlightFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	sources := []SourceInfo{{Name: "hung", URL: server.URL, Timeout: time.Minute}}
	scheduler := NewScheduler(sources, time.Hour, 1, testLogger())
	scheduler.Start(context.Background())

	go func() {
		for range scheduler.Results() {
		}
	}()
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Stop() waited for a hung request")
	}
}

func TestScheduler_Payload(t *testing.T) {
	server := jsonServer(t, `[{"id":1,"longitude":5,"latitude":6}]`)
	sources := []SourceInfo{{Name: "markers", Kind: KindMarkers, URL: server.URL, Timeout: time.Second}}

	scheduler := NewScheduler(sources, time.Hour, 1, testLogger())
	scheduler.Start(context.Background())
	result := receive(t, scheduler)
	scheduler.Stop()

	if result.Error != nil {
		t.Fatalf("Error = %v", result.Error)
	}
	if result.Source != "markers" || result.Kind != KindMarkers {
		t.Errorf("result = %s/%s, want markers/markers", result.Source, result.Kind)
	}
	if string(result.Payload) != `[{"id":1,"longitude":5,"latitude":6}]` {
		t.Errorf("Payload = %s", result.Payload)
	}
	if result.Seq != 1 {
		t.Errorf("Seq = %d, want 1", result.Seq)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", result.StatusCode)
	}
}

func TestScheduler_Extractor(t *testing.T) {
	server := jsonServer(t, `{"data":[1,2]}`)

	extractor := func(body []byte) ([]byte, error) {
		if !strings.Contains(string(body), "data") {
			return nil, errors.New("no data")
		}
		return []byte(`[1,2]`), nil
	}
	failing := func(body []byte) ([]byte, error) {
		return nil, errors.New("no such path")
	}

	sources := []SourceInfo{
		{Name: "ok", URL: server.URL, Timeout: time.Second, Extractor: extractor},
		{Name: "bad", URL: server.URL, Timeout: time.Second, Extractor: failing},
	}
	scheduler := NewScheduler(sources, time.Hour, 2, testLogger())
	scheduler.Start(context.Background())

	results := map[string]FetchResult{}
	for i := 0; i < 2; i++ {
		r := receive(t, scheduler)
		results[r.Source] = r
	}
	scheduler.Stop()

	if got := string(results["ok"].Payload); got != `[1,2]` {
		t.Errorf("ok.Payload = %s, want [1,2]", got)
	}
	if results["bad"].Error == nil {
		t.Error("bad.Error = nil, want extractor error")
	}
	if results["bad"].Payload != nil {
		t.Errorf("bad.Payload = %s, want nil", results["bad"].Payload)
	}
}

func TestScheduler_NonSuccessStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	sources := []SourceInfo{{Name: "down", URL: server.URL, Timeout: time.Second}}
	scheduler := NewScheduler(sources, time.Hour, 1, testLogger())
	scheduler.Start(context.Background())
	result := receive(t, scheduler)
	scheduler.Stop()

	if !errors.Is(result.Error, ErrStatus) {
		t.Errorf("Error = %v, want ErrStatus", result.Error)
	}
	if result.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", result.StatusCode)
	}
	if result.Payload != nil {
		t.Errorf("Payload = %s, want nil", result.Payload)
	}
}

func TestScheduler_ExtractorPanicRecovery(t *testing.T) {
	server := jsonServer(t, `[]`)

	sources := []SourceInfo{{
		Name:      "Panic Test",
		URL:       server.URL,
		Timeout:   time.Second,
		Extractor: func([]byte) ([]byte, error) { panic("simulated failure") },
	}}

	scheduler := NewScheduler(sources, time.Hour, 1, testLogger())
	scheduler.Start(context.Background())
	result := receive(t, scheduler)
	scheduler.Stop()

	if result.Error == nil {
		t.Fatal("Error = nil, want error describing panic")
	}
	errMsg := result.Error.Error()
	if !strings.Contains(errMsg, "extractor panic") {
		t.Errorf("Error = %q, want to contain 'extractor panic'", errMsg)
	}
	if !strings.Contains(errMsg, "correlation_id") {
		t.Errorf("Error = %q, want to contain 'correlation_id'", errMsg)
	}
	if result.Payload != nil {
		t.Errorf("Payload = %s, want nil", result.Payload)
	}
}

func TestScheduler_ExtractorPanicDoesNotAffectOtherSources(t *testing.T) {
	server := jsonServer(t, `[]`)

	sources := []SourceInfo{
		{
			Name:      "Panicking",
			URL:       server.URL,
			Timeout:   time.Second,
			Extractor: func([]byte) ([]byte, error) { panic("boom") },
		},
		{
			Name:    "Healthy",
			URL:     server.URL,
			Timeout: time.Second,
		},
	}

	scheduler := NewScheduler(sources, time.Hour, 2, testLogger())
	scheduler.Start(context.Background())

	results := make(map[string]FetchResult)
	for i := 0; i < 2; i++ {
		r := receive(t, scheduler)
		results[r.Source] = r
	}
	scheduler.Stop()

	if results["Panicking"].Error == nil {
		t.Error("Panicking.Error = nil, want panic error")
	}
	if results["Healthy"].Error != nil {
		t.Errorf("Healthy.Error = %v, want nil", results["Healthy"].Error)
	}
}

func TestScheduler_ExtractorNilPanicRecovery(t *testing.T) {
	server := jsonServer(t, `[]`)

	sources := []SourceInfo{{
		Name:      "Nil Panic Test",
		URL:       server.URL,
		Timeout:   time.Second,
		Extractor: func([]byte) ([]byte, error) { panic(nil) },
	}}

	scheduler := NewScheduler(sources, time.Hour, 1, testLogger())
	scheduler.Start(context.Background())
	result := receive(t, scheduler)
	scheduler.Stop()

	if result.Error == nil {
		t.Fatal("Error = nil, want error for nil panic")
	}
}

func TestScheduler_GCDCalculation(t *testing.T) {
	tests := []struct {
		name           string
		intervals      []time.Duration
		globalInterval time.Duration
		expectedBase   time.Duration
	}{
		{
			name:           "all same interval",
			intervals:      []time.Duration{10 * time.Second, 10 * time.Second},
			globalInterval: 10 * time.Second,
			expectedBase:   10 * time.Second,
		},
		{
			name:           "2s and 5s gives 1s",
			intervals:      []time.Duration{2 * time.Second, 5 * time.Second},
			globalInterval: 30 * time.Second,
			expectedBase:   1 * time.Second,
		},
		{
			name:           "with zero (default) uses global",
			intervals:      []time.Duration{4 * time.Second, 0},
			globalInterval: 6 * time.Second,
			expectedBase:   2 * time.Second,
		},
		{
			name:           "all use default",
			intervals:      []time.Duration{0, 0},
			globalInterval: 15 * time.Second,
			expectedBase:   15 * time.Second,
		},
		{
			name:           "sub-second floored",
			intervals:      []time.Duration{300 * time.Millisecond, 500 * time.Millisecond},
			globalInterval: time.Second,
			expectedBase:   time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sources := make([]SourceInfo, len(tt.intervals))
			for i, interval := range tt.intervals {
				sources[i] = SourceInfo{
					Name:     fmt.Sprintf("src%d", i),
					URL:      "http://127.0.0.1:1",
					Timeout:  time.Second,
					Interval: interval,
				}
			}

			scheduler := NewScheduler(sources, tt.globalInterval, 1, testLogger())
			if base := scheduler.calculateBaseInterval(); base != tt.expectedBase {
				t.Errorf("calculateBaseInterval() = %v, want %v", base, tt.expectedBase)
			}
		})
	}
}

func TestScheduler_GCDCalculation_NoSources(t *testing.T) {
	globalInterval := 20 * time.Second
	scheduler := NewScheduler(nil, globalInterval, 1, testLogger())

	if base := scheduler.calculateBaseInterval(); base != globalInterval {
		t.Errorf("calculateBaseInterval() = %v, want %v (global)", base, globalInterval)
	}
}

func TestScheduler_MixedIntervals(t *testing.T) {
	server := jsonServer(t, `[]`)

	sources := []SourceInfo{
		{Name: "Fast", URL: server.URL, Timeout: time.Second, Interval: 1 * time.Second},
		{Name: "Slow", URL: server.URL, Timeout: time.Second, Interval: 3 * time.Second},
	}

	scheduler := NewScheduler(sources, 5*time.Second, 2, testLogger())
	scheduler.Start(context.Background())

	counts := make(map[string]int)
	seqs := make(map[string][]uint64)
	timeout := time.After(3500 * time.Millisecond)

collecting:
	for {
		select {
		case result, ok := <-scheduler.Results():
			if !ok {
				break collecting
			}
			counts[result.Source]++
			seqs[result.Source] = append(seqs[result.Source], result.Seq)
		case <-timeout:
			break collecting
		}
	}

	scheduler.Stop()

	if counts["Fast"] < 3 {
		t.Errorf("Fast source polled %d times, expected at least 3", counts["Fast"])
	}
	if counts["Slow"] > counts["Fast"] {
		t.Errorf("Slow polled %d times, Fast polled %d times - Slow should poll less frequently",
			counts["Slow"], counts["Fast"])
	}

	// results of one source arrive in issue order, numbered from 1
	for name, got := range seqs {
		for i, seq := range got {
			if seq != uint64(i+1) {
				t.Errorf("%s: seq[%d] = %d, want %d", name, i, seq, i+1)
			}
		}
	}
}

func TestScheduler_NoOverlappingFetches(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := maxInFlight.Load()
			if n <= old || maxInFlight.CompareAndSwap(old, n) {
				break
			}
		}
		// slower than the tick
		time.Sleep(1500 * time.Millisecond)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	sources := []SourceInfo{{Name: "slow", URL: server.URL, Timeout: 5 * time.Second, Interval: time.Second}}
	scheduler := NewScheduler(sources, time.Second, 4, testLogger())
	scheduler.Start(context.Background())

	deadline := time.After(3500 * time.Millisecond)
	var last uint64
collecting:
	for {
		select {
		case r := <-scheduler.Results():
			if r.Seq <= last {
				t.Errorf("seq %d after %d", r.Seq, last)
			}
			last = r.Seq
		case <-deadline:
			break collecting
		}
	}
	scheduler.Stop()

	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent fetches of one source = %d, want 1", got)
	}
}

func TestScheduler_ImmediatePollOnStart(t *testing.T) {
	server := jsonServer(t, `[]`)

	sources := []SourceInfo{{Name: "LongInterval", URL: server.URL, Timeout: time.Second, Interval: time.Hour}}

	scheduler := NewScheduler(sources, time.Hour, 1, testLogger())
	scheduler.Start(context.Background())

	select {
	case result := <-scheduler.Results():
		if result.Source != "LongInterval" {
			t.Errorf("Source = %q, want %q", result.Source, "LongInterval")
		}
	case <-time.After(500 * time.Millisecond):
		t.Error("timeout waiting for immediate poll result")
	}

	scheduler.Stop()
}
