// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package cli

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"testing"

	"go.astrophena.name/ebbinghaus/internal/testutil"
)

type testApp struct {
	name    string
	gotArgs []string
}

func (a *testApp) Flags(fs *flag.FlagSet, getenv func(string) string) {
	fs.StringVar(&a.name, "name", getenv("NAME"), "Name.")
}

func (a *testApp) Run(ctx context.Context, env *Env) error {
	a.gotArgs = env.Args
	if a.name == "fail" {
		return fmt.Errorf("%w: bad name", ErrInvalidArgs)
	}
	fmt.Fprintf(env.Stdout, "hello, %s", a.name)
	return nil
}

func testEnv(args []string, vars map[string]string) (*Env, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return &Env{
		Args:   args,
		Getenv: func(k string) string { return vars[k] },
		Stdin:  strings.NewReader(""),
		Stdout: &stdout,
		Stderr: &stderr,
	}, &stdout, &stderr
}

func TestRun(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		args       []string
		vars       map[string]string
		wantErr    error
		wantStdout string
		wantArgs   []string
	}{
		"flag": {
			args:       []string{"-name", "world", "serve"},
			wantStdout: "hello, world",
			wantArgs:   []string{"serve"},
		},
		"environment": {
			vars:       map[string]string{"NAME": "env"},
			wantStdout: "hello, env",
		},
		"app error": {
			args:    []string{"-name", "fail"},
			wantErr: ErrInvalidArgs,
		},
		"unknown flag": {
			args:    []string{"-frobnicate"},
			wantErr: ErrInvalidArgs,
		},
		"version": {
			args:    []string{"-version"},
			wantErr: ErrExitVersion,
		},
		"help": {
			args:    []string{"-h"},
			wantErr: flag.ErrHelp,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			app := new(testApp)
			env, stdout, _ := testEnv(tc.args, tc.vars)
			err := Run(context.Background(), app, env)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr != nil {
				return
			}
			testutil.AssertEqual(t, stdout.String(), tc.wantStdout)
			testutil.AssertEqual(t, app.gotArgs, tc.wantArgs)
		})
	}
}

func TestIsPrintableError(t *testing.T) {
	t.Parallel()

	testutil.AssertEqual(t, isPrintableError(errors.New("boom")), true)
	testutil.AssertEqual(t, isPrintableError(ErrExitVersion), false)
	testutil.AssertEqual(t, isPrintableError(flag.ErrHelp), false)
	testutil.AssertEqual(t, isPrintableError(fmt.Errorf("%w: x", ErrInvalidArgs)), true)
}

func TestParseDocComment(t *testing.T) {
	docSrc = []byte("/*\nEbbinghaus does things.\n\nMore text.\n*/\npackage main\n")
	t.Cleanup(func() { docSrc = nil })
	testutil.AssertEqual(t, parseDocComment(), "Ebbinghaus does things.\n\nMore text.\n")
}
