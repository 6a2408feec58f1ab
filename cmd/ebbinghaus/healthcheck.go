// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"go.astrophena.name/ebbinghaus/internal/cli"
	"go.astrophena.name/ebbinghaus/internal/request"
	"go.astrophena.name/ebbinghaus/internal/web"
)

const healthcheckTimeout = 10 * time.Second

var errUnhealthy = errors.New("unhealthy")

// healthcheck queries the /health endpoint of a running instance. It's used
// by the container HEALTHCHECK.
func (a *app) healthcheck(ctx context.Context, env *cli.Env, args []string) error {
	fs := flag.NewFlagSet("healthcheck", flag.ContinueOnError)
	fs.SetOutput(env.Stderr)
	url := fs.String("url", fmt.Sprintf("http://127.0.0.1:%d/health", *a.port), "Health endpoint `URL`.")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", cli.ErrInvalidArgs, err)
	}

	ctx, cancel := context.WithTimeout(ctx, healthcheckTimeout)
	defer cancel()

	httpc := a.httpc
	if httpc == nil {
		httpc = &http.Client{Timeout: healthcheckTimeout}
	}
	hr, err := request.Make[web.HealthResponse](ctx, request.Params{
		Method:     http.MethodGet,
		URL:        *url,
		HTTPClient: httpc,
	})
	// Unhealthy instances respond with 500, but still describe their checks.
	var se *request.StatusError
	if errors.As(err, &se) && json.Unmarshal(se.Body, &hr) == nil {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errUnhealthy, err)
	}
	for name, c := range hr.Checks {
		if !c.OK {
			fmt.Fprintf(env.Stderr, "%s: %s\n", name, c.Status)
		}
	}
	if !hr.OK {
		return errUnhealthy
	}
	fmt.Fprintln(env.Stdout, hr.Status)
	return nil
}
