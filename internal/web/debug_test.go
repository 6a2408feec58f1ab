// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"go.astrophena.name/ebbinghaus/internal/testutil"
)

func getDebug(t *testing.T, mux *http.ServeMux) DebugIndex {
	t.Helper()
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/", nil))
	testutil.AssertEqual(t, w.Code, http.StatusOK)
	return testutil.UnmarshalJSON[DebugIndex](t, w.Body.Bytes())
}

func TestDebugger(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	dbg1 := Debugger(mux)
	if dbg1 == nil {
		t.Fatal("didn't get a debugger from mux")
	}
	if dbg2 := Debugger(mux); dbg2 != dbg1 {
		t.Fatal("Debugger returned different debuggers for the same mux")
	}

	idx := getDebug(t, mux)
	if _, ok := idx.KV["Uptime"]; !ok {
		t.Errorf("no uptime in %+v", idx.KV)
	}
	if !slices.Contains(idx.Links, DebugLink{URL: "/debug/pprof/", Desc: "Profiles"}) {
		t.Errorf("no pprof link in %+v", idx.Links)
	}
}

func TestDebuggerKV(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	dbg := Debugger(mux)
	dbg.KV("Store", "memory")
	val := "running"
	dbg.KVFunc("Scheduler", func() any { return val })

	idx := getDebug(t, mux)
	testutil.AssertEqual(t, idx.KV["Store"], any("memory"))
	testutil.AssertEqual(t, idx.KV["Scheduler"], any("running"))

	val = "stopped"
	idx = getDebug(t, mux)
	testutil.AssertEqual(t, idx.KV["Scheduler"], any("stopped"))
}

func TestDebuggerHandle(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	dbg := Debugger(mux)
	dbg.HandleFunc("check", "Consistency check", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Test output")
	})

	idx := getDebug(t, mux)
	if !slices.Contains(idx.Links, DebugLink{URL: "/debug/check", Desc: "Consistency check"}) {
		t.Errorf("no link to the handler in %+v", idx.Links)
	}
	if !slices.IsSortedFunc(idx.Links, func(a, b DebugLink) int {
		switch {
		case a.Desc < b.Desc:
			return -1
		case a.Desc > b.Desc:
			return 1
		}
		return 0
	}) {
		t.Errorf("links are not sorted: %+v", idx.Links)
	}

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/check", nil))
	testutil.AssertEqual(t, w.Body.String(), "Test output")

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/missing", nil))
	testutil.AssertEqual(t, w.Code, http.StatusNotFound)
}

func TestProtectDebug(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	Debugger(mux)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {})
	h := protectDebug(mux, func(r *http.Request) bool { return HasBearer(r, "hunter2") })

	cases := map[string]struct {
		path     string
		bearer   string
		wantCode int
	}{
		"root":               {path: "/", wantCode: http.StatusOK},
		"debug without auth": {path: "/debug/", wantCode: http.StatusNotFound},
		"debug with auth":    {path: "/debug/", bearer: "hunter2", wantCode: http.StatusOK},
		"debug wrong token":  {path: "/debug/gc", bearer: "letmein", wantCode: http.StatusNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.bearer != "" {
				r.Header.Set("Authorization", "Bearer "+tc.bearer)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			testutil.AssertEqual(t, w.Code, tc.wantCode)
		})
	}
}
