package http

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yanqian/sunspot/internal/infra/config"
)

const (
	retryBodyLimit = 1 << 20 // 1 MiB
	maxRetryDelay  = 2 * time.Second
)

var errBodyTooLarge = errors.New("request body exceeds retry limit")

// retryPolicy replays read-only POSTs, such as batch exposure lookups, whose
// handler answered with a 5xx.
type retryPolicy struct {
	attempts int
	base     time.Duration
	exclude  []string
}

func (p retryPolicy) applies(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	for _, prefix := range p.exclude {
		if prefix != "" && strings.HasPrefix(r.URL.Path, prefix) {
			return false
		}
	}
	return true
}

// delay is the wait before the given attempt (2 = first retry).
func (p retryPolicy) delay(attempt int) time.Duration {
	if p.base <= 0 {
		return 0
	}
	d := p.base << (attempt - 2)
	if d <= 0 || d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

func withRetry(handler http.Handler, cfg config.RetryConfig, logger *slog.Logger) http.Handler {
	if !cfg.Enabled || cfg.MaxAttempts <= 1 {
		return handler
	}
	policy := retryPolicy{attempts: cfg.MaxAttempts, base: cfg.BaseBackoff, exclude: cfg.Exclude}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !policy.applies(r) {
			handler.ServeHTTP(w, r)
			return
		}
		body, err := bufferBody(r)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, errBodyTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			http.Error(w, err.Error(), status)
			return
		}

		for attempt := 1; ; attempt++ {
			if attempt > 1 && !sleepCtx(r, policy.delay(attempt)) {
				return
			}
			buffered := newBufferedResponse()
			replay := r.Clone(r.Context())
			replay.Body = io.NopCloser(bytes.NewReader(body))
			replay.ContentLength = int64(len(body))
			handler.ServeHTTP(buffered, replay)

			if buffered.status < http.StatusInternalServerError || attempt >= policy.attempts {
				buffered.flushTo(w)
				return
			}
			logger.Warn("transient failure, retrying request", "path", r.URL.Path, "status", buffered.status, "attempt", attempt)
		}
	})
}

func sleepCtx(r *http.Request, d time.Duration) bool {
	if d <= 0 {
		return r.Context().Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-r.Context().Done():
		return false
	case <-timer.C:
		return true
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, retryBodyLimit+1))
	if err != nil {
		return nil, err
	}
	if len(data) > retryBodyLimit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// bufferedResponse holds one attempt's response until it is known to be final.
type bufferedResponse struct {
	header      http.Header
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.wroteHeader {
		return
	}
	b.status = status
	b.wroteHeader = true
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	b.wroteHeader = true
	return b.body.Write(p)
}

// Flush is a no-op; output is released by flushTo.
func (b *bufferedResponse) Flush() {}

func (b *bufferedResponse) flushTo(w http.ResponseWriter) {
	dst := w.Header()
	for k := range dst {
		dst.Del(k)
	}
	for k, v := range b.header.Clone() {
		dst[k] = v
	}
	w.WriteHeader(b.status)
	if b.body.Len() > 0 {
		_, _ = w.Write(b.body.Bytes())
	}
}
