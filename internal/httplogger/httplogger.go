// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package httplogger provides an [http.RoundTripper] middleware that logs
// outgoing HTTP requests and their outcome.
package httplogger

import (
	"cmp"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// New returns an [http.RoundTripper] that logs every request made through t at
// the debug level. If scrubber is not nil, it is applied to logged URLs and
// errors, so that secrets embedded in them don't leak to logs.
func New(t http.RoundTripper, logger *slog.Logger, scrubber *strings.Replacer) http.RoundTripper {
	if t == nil {
		t = http.DefaultTransport
	}
	return &loggingTransport{
		transport: t,
		logger:    cmp.Or(logger, slog.Default()),
		scrubber:  scrubber,
	}
}

type loggingTransport struct {
	transport http.RoundTripper
	logger    *slog.Logger
	scrubber  *strings.Replacer
}

func (t *loggingTransport) scrub(s string) string {
	if t.scrubber == nil {
		return s
	}
	return t.scrubber.Replace(s)
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.transport.RoundTrip(r)

	attrs := []any{
		"method", r.Method,
		"url", t.scrub(r.URL.String()),
		"duration", time.Since(start).Round(time.Millisecond),
	}
	if resp != nil {
		attrs = append(attrs, "status", resp.StatusCode)
	}
	if err != nil {
		attrs = append(attrs, "err", t.scrub(err.Error()))
	}
	t.logger.DebugContext(r.Context(), "HTTP request", attrs...)

	return resp, err
}
