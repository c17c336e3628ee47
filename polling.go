package mapboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/jpalmerr/mapboard/internal/poller"
)

// CancelFunc stops a poll started with [StartPolling]. It blocks until the
// polling goroutine has exited and is safe to call more than once. It must
// not be called from inside the onData callback.
type CancelFunc func()

type pollConfig struct {
	headers map[string]string
	timeout time.Duration
	logger  *slog.Logger
}

// PollOption configures [StartPolling].
type PollOption func(*pollConfig) error

// WithPollHeaders adds HTTP headers to every request of the poll.
//
// Accepts variadic key-value pairs. The number of arguments must be even.
func WithPollHeaders(keyValues ...string) PollOption {
	return func(cfg *pollConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithPollHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithPollTimeout sets the per-request timeout. Defaults to 10 seconds.
func WithPollTimeout(d time.Duration) PollOption {
	return func(cfg *pollConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithPollLogger sets the logger failed fetches are reported to at debug
// level. Defaults to [slog.Default].
func WithPollLogger(logger *slog.Logger) PollOption {
	return func(cfg *pollConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// StartPolling fetches rawURL immediately and then every period, decoding each
// JSON response into T and passing it to onData.
//
// A fetch that fails, returns a non-2xx status, or does not decode into T
// produces no callback; polling continues on the next tick. Fetches never
// overlap: a slow fetch delays the next one. onData runs on the polling
// goroutine.
//
// Polling stops when ctx is cancelled or the returned [CancelFunc] is called.
//
// Example:
//
//	cancel, err := mapboard.StartPolling(ctx, "https://fleet.example.com/positions", 5*time.Second,
//	    func(positions []Position) {
//	        render(positions)
//	    },
//	)
//	defer cancel()
func StartPolling[T any](ctx context.Context, rawURL string, period time.Duration, onData func(T), opts ...PollOption) (CancelFunc, error) {
	if period <= 0 {
		return nil, errors.New("period must be positive")
	}
	if onData == nil {
		return nil, errors.New("onData cannot be nil")
	}
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" {
		return nil, errors.New("URL must have a scheme (http:// or https://)")
	}

	cfg := &pollConfig{
		headers: make(map[string]string),
		timeout: defaultSourceTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	client := poller.NewClient()
	done := make(chan struct{})

	fetch := func() {
		resp := client.Fetch(ctx, poller.Request{URL: rawURL, Headers: cfg.headers, Timeout: cfg.timeout})
		if err := resp.Err(); err != nil {
			// a cancelled context is not worth a log line
			if ctx.Err() == nil {
				cfg.logger.Debug("poll failed",
					"url", rawURL,
					"status_code", resp.StatusCode,
					"error", err,
				)
			}
			return
		}
		var v T
		if err := json.Unmarshal(resp.Body, &v); err != nil {
			cfg.logger.Debug("poll response not decodable", "url", rawURL, "error", err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		onData(v)
	}

	go func() {
		defer close(done)
		defer client.Close()

		fetch()

		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fetch()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(cancel)
		<-done
	}, nil
}
