// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package envflag

import (
	"flag"
	"io"
	"strings"
	"testing"
	"time"

	"go.astrophena.name/ebbinghaus/internal/testutil"
)

func TestValue(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		env      map[string]string
		args     []string
		wantPort int
		wantTZ   string
		wantDbg  bool
		wantPoll time.Duration
		wantArgs []string
	}{
		"defaults": {
			wantPort: 8000,
			wantTZ:   "Asia/Yekaterinburg",
			wantPoll: 30 * time.Second,
		},
		"environment": {
			env: map[string]string{
				"APP_PORT":         "9000",
				"DEFAULT_TIMEZONE": "Europe/Moscow",
				"DEBUG":            "true",
				"POLL_TIMEOUT":     "5s",
			},
			wantPort: 9000,
			wantTZ:   "Europe/Moscow",
			wantDbg:  true,
			wantPoll: 5 * time.Second,
		},
		"flags override environment": {
			env:      map[string]string{"APP_PORT": "9000"},
			args:     []string{"-port", "9100", "-poll-timeout", "1m"},
			wantPort: 9100,
			wantTZ:   "Asia/Yekaterinburg",
			wantPoll: time.Minute,
		},
		"bare boolean flag": {
			args:     []string{"-debug", "migrate"},
			wantPort: 8000,
			wantTZ:   "Asia/Yekaterinburg",
			wantDbg:  true,
			wantPoll: 30 * time.Second,
			wantArgs: []string{"migrate"},
		},
		"boolean flag with value": {
			env:      map[string]string{"DEBUG": "true"},
			args:     []string{"-debug=false", "serve"},
			wantPort: 8000,
			wantTZ:   "Asia/Yekaterinburg",
			wantPoll: 30 * time.Second,
			wantArgs: []string{"serve"},
		},
		"invalid environment value falls back to default": {
			env:      map[string]string{"APP_PORT": "eighty"},
			wantPort: 8000,
			wantTZ:   "Asia/Yekaterinburg",
			wantPoll: 30 * time.Second,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			getenv := func(k string) string { return tc.env[k] }
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			fs.SetOutput(io.Discard)

			port := Value("port", "APP_PORT", 8000, "Port.", fs, getenv)
			tz := Value("timezone", "DEFAULT_TIMEZONE", "Asia/Yekaterinburg", "Time zone.", fs, getenv)
			dbg := Value("debug", "DEBUG", false, "Debug.", fs, getenv)
			poll := Value("poll-timeout", "POLL_TIMEOUT", 30*time.Second, "Poll timeout.", fs, getenv)

			if err := fs.Parse(tc.args); err != nil {
				t.Fatal(err)
			}

			testutil.AssertEqual(t, *port, tc.wantPort)
			testutil.AssertEqual(t, *tz, tc.wantTZ)
			testutil.AssertEqual(t, *dbg, tc.wantDbg)
			testutil.AssertEqual(t, *poll, tc.wantPoll)
			testutil.AssertEqual(t, len(fs.Args()), len(tc.wantArgs))
			for i, arg := range tc.wantArgs {
				testutil.AssertEqual(t, fs.Arg(i), arg)
			}
		})
	}
}

func TestInvalidFlagValue(t *testing.T) {
	t.Parallel()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	Value("shutdown-timeout", "SHUTDOWN_TIMEOUT", 30*time.Second, "Timeout.", fs, func(string) string { return "" })
	if err := fs.Parse([]string{"-shutdown-timeout", "soon"}); err == nil {
		t.Fatal("want error for a malformed duration")
	}
}

func TestDefaultsUsage(t *testing.T) {
	t.Parallel()
	var buf strings.Builder
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(&buf)
	Value("memory", "MEMORY_STORE", false, "Keep data in memory.", fs, func(string) string { return "" })
	Value("http-timeout", "HTTP_TIMEOUT", time.Minute, "HTTP `timeout`.", fs, func(string) string { return "" })
	fs.PrintDefaults()
	testutil.AssertSubstring(t, buf.String(), "-memory\n")
	testutil.AssertSubstring(t, buf.String(), "-http-timeout timeout")
	testutil.AssertSubstring(t, buf.String(), "(default 1m0s)")
	testutil.AssertSubstring(t, buf.String(), "MEMORY_STORE environment variable")
}
