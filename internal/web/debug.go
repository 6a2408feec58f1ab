// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Adapted from https://pkg.go.dev/tailscale.com/tsweb#Debugger.

package web

import (
	"cmp"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"runtime"
	"slices"
	"sync"
	"time"

	"go.astrophena.name/ebbinghaus/internal/version"
)

// DebugHandler serves a JSON index of debug endpoints at /debug/ and provides
// helpers to register more of them.
//
// The index consists of key/value pairs and links to other debug endpoints.
// Callers can add to them with the KV and Link helpers. The Handle method
// registers a debug handler and links it from /debug/.
//
// Methods of DebugHandler can be safely called by multiple goroutines.
type DebugHandler struct {
	mux     *http.ServeMux // where this handler is registered
	mu      sync.RWMutex   // covers all fields below
	kvfuncs []kvfunc
	links   []DebugLink
}

type kvfunc struct {
	k string
	v func() any
}

// DebugLink is a link from the /debug/ index.
type DebugLink struct {
	URL  string `json:"url"`
	Desc string `json:"desc"`
}

// DebugIndex is the response of /debug/.
type DebugIndex struct {
	Name    string         `json:"name"`
	Version string         `json:"version"`
	KV      map[string]any `json:"kv"`
	Links   []DebugLink    `json:"links"`
}

// Debugger returns the [DebugHandler] registered on mux at /debug/, creating it
// if necessary.
func Debugger(mux *http.ServeMux) *DebugHandler {
	h, pat := mux.Handler(&http.Request{Method: http.MethodGet, URL: &url.URL{Path: "/debug/"}})
	if d, ok := h.(*DebugHandler); ok && pat == "/debug/" {
		return d
	}
	ret := &DebugHandler{mux: mux}
	mux.Handle("/debug/", ret)

	if hostname, err := os.Hostname(); err == nil {
		ret.KV("Machine", hostname)
	}
	ret.KVFunc("Uptime", uptime)
	ret.KVFunc("Goroutines", func() any { return runtime.NumGoroutine() })
	ret.Handle("pprof/", "Profiles", http.HandlerFunc(pprof.Index))
	ret.Link("/debug/pprof/goroutine?debug=1", "Goroutines (collapsed)")
	ret.Link("/debug/pprof/goroutine?debug=2", "Goroutines (full)")
	ret.Handle("gc", "Force GC", http.HandlerFunc(serveGC))
	// Covered by the pprof index.
	mux.Handle("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))

	return ret
}

func serveGC(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("Running GC...\n"))
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	runtime.GC()
	w.Write([]byte("Done.\n"))
}

var timeStart = time.Now()

func uptime() any { return time.Since(timeStart).Round(time.Second).String() }

// ServeHTTP implements the [http.Handler] interface.
func (d *DebugHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/debug/" {
		// Sub-handlers are handled by the parent mux directly.
		RespondJSONError(nil, w, ErrNotFound)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		RespondJSONError(nil, w, ErrMethodNotAllowed)
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	idx := &DebugIndex{
		Name:    version.CmdName(),
		Version: version.Version().Short(),
		KV:      make(map[string]any, len(d.kvfuncs)),
		Links:   slices.Clone(d.links),
	}
	for _, kvf := range d.kvfuncs {
		idx.KV[kvf.k] = kvf.v()
	}
	RespondJSON(w, idx)
}

// Handle registers handler at /debug/<slug> and links it from /debug/.
func (d *DebugHandler) Handle(slug, desc string, handler http.Handler) {
	href := "/debug/" + slug
	d.mux.Handle(href, handler)
	d.Link(href, desc)
}

// HandleFunc is like Handle, but accepts [http.HandlerFunc] instead of
// [http.Handler].
func (d *DebugHandler) HandleFunc(slug, desc string, handler http.HandlerFunc) {
	d.Handle(slug, desc, handler)
}

// KV adds a key/value pair to /debug/.
func (d *DebugHandler) KV(k string, v any) {
	d.KVFunc(k, func() any { return v })
}

// KVFunc adds a key/value pair to /debug/. v is called on every request.
func (d *DebugHandler) KVFunc(k string, v func() any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kvfuncs = append(d.kvfuncs, kvfunc{k, v})
}

// Link adds a link to /debug/.
func (d *DebugHandler) Link(url, desc string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.links = append(d.links, DebugLink{url, desc})
	slices.SortStableFunc(d.links, func(a, b DebugLink) int {
		return cmp.Compare(a.Desc, b.Desc)
	})
}
