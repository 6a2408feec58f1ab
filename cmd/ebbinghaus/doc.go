// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Ebbinghaus is a Telegram bot that helps to memorize material with spaced
repetition along the Ebbinghaus forgetting curve.

Send the bot what you have learned, and it schedules reviews: right away, in
20 minutes, in the evening, and then 1, 3, 7, 14 and 30 days later. Every
morning it sends a digest of the reviews due today.

# Usage

	$ ebbinghaus [flags...] [serve]
	$ ebbinghaus [flags...] migrate
	$ ebbinghaus healthcheck [-url http://127.0.0.1:8000/health]

The serve command is the default. It applies database migrations, starts the
scheduler and receives updates from Telegram: through a webhook when
WEBHOOK_URL is set, and with long polling otherwise.

The migrate command applies database migrations and exits.

The healthcheck command requests the /health endpoint of a running bot and
fails if it is unhealthy. It is meant for container health checks.

# Configuration

Every flag can be set by an environment variable, and variables can be put
into a .env file in the working directory. Variables already set in the
environment take precedence over the .env file.

# HTTP API

	GET  /                                             service information
	GET  /health                                       health checks
	POST /webhook                                      Telegram updates
	GET  /api/users/{id}/stats                         user statistics
	GET  /api/users/{id}/materials                     ?limit=10&active_only=true
	GET  /api/users/{id}/schedule                      ?days_ahead=7&include_completed=false
	GET  /api/users/{id}/materials/{mid}/debug-schedule
	GET  /api/scheduler/status                         scheduled jobs
	POST /api/test/notification/{id}                   sends the daily digest now
	GET  /debug/log                                    recent log lines, with -debug

When API_TOKEN is set, requests to /api/ must carry the
"Authorization: Bearer {API_TOKEN}" header.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/ebbinghaus/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
