// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"encoding/json"
	"maps"
	"net/http"
	"net/url"

	"go.astrophena.name/ebbinghaus/internal/util/syncx"
)

// Health returns the [HealthHandler] registered on mux at /health, creating it
// if necessary.
func Health(mux *http.ServeMux) *HealthHandler {
	h, pat := mux.Handler(&http.Request{Method: http.MethodGet, URL: &url.URL{Path: "/health"}})
	if hh, ok := h.(*HealthHandler); ok && pat == "GET /health" {
		return hh
	}
	ret := &HealthHandler{
		checks: syncx.Protect(make(checksMap)),
		info:   syncx.Protect(make(infoMap)),
	}
	mux.Handle("GET /health", ret)
	return ret
}

// HealthHandler is an HTTP handler that returns information about the health
// status of the running service.
type HealthHandler struct {
	checks *syncx.Protected[checksMap]
	info   *syncx.Protected[infoMap]
}

type (
	checksMap = map[string]HealthFunc
	infoMap   = map[string]func() any
)

// HealthFunc is the health check function that reports the state of a
// particular subsystem.
type HealthFunc func() (status string, ok bool)

// RegisterFunc registers the health check function by the given name. If the
// health check function with this name already exists, RegisterFunc panics.
//
// Health check function must be safe for concurrent use.
func (h *HealthHandler) RegisterFunc(name string, f HealthFunc) {
	h.checks.Access(func(checks checksMap) {
		if _, dup := checks[name]; dup {
			panic("health: health check function with this name already exists")
		}
		checks[name] = f
	})
}

// RegisterInfo adds a top-level field to the health response, computed by f
// on every request. Field names of [HealthResponse] can't be overridden.
func (h *HealthHandler) RegisterInfo(name string, f func() any) {
	switch name {
	case "ok", "status", "checks":
		panic("health: reserved info field " + name)
	}
	h.info.Access(func(info infoMap) { info[name] = f })
}

// HealthResponse represents a response of the /health endpoint.
type HealthResponse struct {
	OK     bool                     `json:"ok"`
	Status string                   `json:"status"`
	Checks map[string]CheckResponse `json:"checks"`
	// Info holds the fields added by RegisterInfo. They are flattened into the
	// JSON object.
	Info map[string]any `json:"-"`
}

// MarshalJSON implements the [json.Marshaler] interface.
func (hr *HealthResponse) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(hr.Info)+3)
	maps.Copy(m, hr.Info)
	m["ok"] = hr.OK
	m["status"] = hr.Status
	m["checks"] = hr.Checks
	return json.Marshal(m)
}

// CheckResponse represents a status of an individual check.
type CheckResponse struct {
	Status string `json:"status"`
	OK     bool   `json:"ok"`
}

// ServeHTTP implements the [http.Handler] interface.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hr := &HealthResponse{
		OK:     true,
		Checks: make(map[string]CheckResponse),
		Info:   make(map[string]any),
	}

	h.checks.RAccess(func(checks checksMap) {
		for name, f := range checks {
			status, ok := f()
			if !ok {
				hr.OK = false
			}
			hr.Checks[name] = CheckResponse{Status: status, OK: ok}
		}
	})
	h.info.RAccess(func(info infoMap) {
		for name, f := range info {
			hr.Info[name] = f()
		}
	})

	code := http.StatusOK
	hr.Status = "healthy"
	if !hr.OK {
		code = http.StatusInternalServerError
		hr.Status = "unhealthy"
	}
	RespondJSONStatus(w, code, hr)
}
