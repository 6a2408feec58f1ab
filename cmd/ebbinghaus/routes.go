// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strconv"
	"time"

	"go.astrophena.name/ebbinghaus/internal/notify"
	"go.astrophena.name/ebbinghaus/internal/review"
	"go.astrophena.name/ebbinghaus/internal/store"
	"go.astrophena.name/ebbinghaus/internal/version"
	"go.astrophena.name/ebbinghaus/internal/web"
)

const pingTimeout = 5 * time.Second

func (a *app) initRoutes() {
	a.mux = http.NewServeMux()
	a.mux.HandleFunc("GET /{$}", a.handleRoot)
	a.mux.Handle("POST /webhook", a.bot)
	if *a.debug {
		dbg := web.Debugger(a.mux)
		dbg.Handle("log", "Log stream", a.logStream)
		dbg.KV("Store", a.storeKind())
		dbg.KVFunc("Scheduled jobs", func() any { return len(a.sched.Status().Jobs) })
		dbg.KVFunc("Recent log lines", func() any { return len(a.logStream.Lines()) })
	}

	health := web.Health(a.mux)
	health.RegisterFunc("database", func() (string, bool) {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if err := a.store.Ping(ctx); err != nil {
			return err.Error(), false
		}
		return "connected", true
	})
	health.RegisterFunc("scheduler", func() (string, bool) {
		if a.sched.Running() {
			return "running", true
		}
		return "stopped", false
	})
	health.RegisterFunc("bot_token", func() (string, bool) {
		if *a.botToken == "" {
			return "missing", false
		}
		return "configured", true
	})
	health.RegisterInfo("scheduler", func() any { return a.sched.Status() })
	health.RegisterInfo("bot_token_configured", func() any { return *a.botToken != "" })
	health.RegisterInfo("database_configured", func() any { return *a.memory || *a.databaseURL != "" })

	api := http.NewServeMux()
	api.HandleFunc("GET /api/users/{id}/stats", a.handleUserStats)
	api.HandleFunc("GET /api/users/{id}/materials", a.handleUserMaterials)
	api.HandleFunc("GET /api/users/{id}/schedule", a.handleUserSchedule)
	api.HandleFunc("GET /api/users/{uid}/materials/{mid}/debug-schedule", a.handleDebugSchedule)
	api.HandleFunc("GET /api/scheduler/status", a.handleSchedulerStatus)
	api.HandleFunc("POST /api/test/notification/{uid}", a.handleTestNotification)
	a.mux.Handle("/api/", web.RequireBearer(*a.apiToken, api))
}

func (a *app) storeKind() string {
	if _, ok := a.store.(*store.MemStore); ok {
		return "memory"
	}
	return "postgres"
}

// debugAuth guards /debug/ with the API token, if any.
func (a *app) debugAuth(r *http.Request) bool {
	return *a.apiToken == "" || web.HasBearer(r, *a.apiToken)
}

func (a *app) handleRoot(w http.ResponseWriter, r *http.Request) {
	web.RespondJSON(w, map[string]string{
		"message": "Ebbinghaus Learning Bot API",
		"version": version.Version().Short(),
		"status":  "running",
	})
}

func notFound(w http.ResponseWriter, msg string, extra map[string]any) {
	resp := map[string]any{"status": "error", "error": msg}
	maps.Copy(resp, extra)
	web.RespondJSONStatus(w, http.StatusNotFound, resp)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", web.ErrBadRequest, name, r.PathValue(name))
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", web.ErrBadRequest, name, s)
	}
	return n, nil
}

func queryBool(r *http.Request, name string, def bool) (bool, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%w: invalid %s %q", web.ErrBadRequest, name, s)
	}
	return b, nil
}

type statsResponse struct {
	UserID     int64          `json:"user_id"`
	Username   string         `json:"username"`
	FirstName  string         `json:"first_name"`
	CreatedAt  time.Time      `json:"created_at"`
	IsActive   bool           `json:"is_active"`
	Timezone   string         `json:"timezone"`
	Statistics statsCountsDTO `json:"statistics"`
}

type statsCountsDTO struct {
	TotalMaterials        int     `json:"total_materials"`
	ActiveMaterials       int     `json:"active_materials"`
	SuccessfulRepetitions int     `json:"successful_repetitions"`
	FailedRepetitions     int     `json:"failed_repetitions"`
	SuccessRate           float64 `json:"success_rate"`
	UpcomingRepetitions   int     `json:"upcoming_repetitions"`
	OverdueRepetitions    int     `json:"overdue_repetitions"`
	TodayRepetitions      int     `json:"today_repetitions"`
}

func (a *app) handleUserStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		web.RespondJSONError(a.logger, w, err)
		return
	}
	st, err := a.svc.Stats(r.Context(), id)
	if errors.Is(err, review.ErrNotFound) {
		notFound(w, "User not found", nil)
		return
	}
	if err != nil {
		web.RespondJSONError(a.logger, w, err)
		return
	}
	u := st.User
	web.RespondJSON(w, &statsResponse{
		UserID:    u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		CreatedAt: u.CreatedAt.In(a.svc.Location(u)),
		IsActive:  u.IsActive,
		Timezone:  a.svc.Location(u).String(),
		Statistics: statsCountsDTO{
			TotalMaterials:        st.TotalMaterials,
			ActiveMaterials:       st.ActiveMaterials,
			SuccessfulRepetitions: st.Successful,
			FailedRepetitions:     st.Failed,
			SuccessRate:           st.SuccessRate,
			UpcomingRepetitions:   st.Upcoming,
			OverdueRepetitions:    st.Overdue,
			TodayRepetitions:      st.Today,
		},
	})
}

type materialDTO struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	IsActive  bool      `json:"is_active"`
}

func (a *app) handleUserMaterials(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		web.RespondJSONError(a.logger, w, err)
		return
	}
	limit, err := queryInt(r, "limit", 10)
	if err != nil {
		web.RespondJSONError(a.logger, w, err)
		return
	}
	activeOnly, err := queryBool(r, "active_only", true)
	if err != nil {
		web.RespondJSONError(a.logger, w, err)
		return
	}

	ms, err := a.svc.Materials(r.Context(), id, activeOnly, limit)
	if err != nil {
		web.RespondJSONError(a.logger, w, err)
		return
	}
	dtos := make([]materialDTO, 0, len(ms))
	for _, m := range ms {
		dtos = append(dtos, materialDTO{
			ID:        m.ID,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			IsActive:  m.IsActive,
		})
	}
	web.RespondJSON(w, map[string]any{
		"user_id":   id,
		"materials": dtos,
		"count":     len(dtos),
	})
}

type scheduleDTO struct {
	ID              int64      `json:"id"`
	MaterialID      int64      `json:"material_id"`
	MaterialContent string     `json:"material_content"`
	ScheduledDate   string     `json:"scheduled_date"`
	RepetitionType  string     `json:"repetition_type"`
	IntervalDays    int        `json:"interval_days"`
	IsCompleted     bool       `json:"is_completed"`
	CompletedAt     *time.Time `json:"completed_at"`
}

func (a *app) handleUserSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		web.RespondJSONError(a.logger, w, err)
		return
	}
	days, err := queryInt(r, "days_ahead", 7)
	if err != nil {
		web.RespondJSONError(a.logger, w, err)
		return
	}
	includeCompleted, err := queryBool(r, "include_completed", false)
	if err != nil {
		web.RespondJSONError(a.logger, w, err)
		return
	}

	items, err := a.svc.Schedule(r.Context(), id, days, includeCompleted)
	if err != nil {
		web.RespondJSONError(a.logger, w, err)
		return
	}
	dtos := make([]scheduleDTO, 0, len(items))
	for _, it := range items {
		dtos = append(dtos, scheduleDTO{
			ID:              it.ID,
			MaterialID:      it.MaterialID,
			MaterialContent: it.Content,
			ScheduledDate:   it.ScheduledDate.Format(time.DateOnly),
			RepetitionType:  it.Kind,
			IntervalDays:    it.IntervalDays,
			IsCompleted:     it.Completed,
			CompletedAt:     it.CompletedAt,
		})
	}
	web.RespondJSON(w, map[string]any{
		"user_id":  id,
		"schedule": dtos,
		"count":    len(dtos),
	})
}

func (a *app) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	web.RespondJSON(w, a.sched.Status())
}

func (a *app) handleDebugSchedule(w http.ResponseWriter, r *http.Request) {
	uid, err := pathID(r, "uid")
	if err != nil {
		web.RespondJSONError(a.logger, w, err)
		return
	}
	mid, err := pathID(r, "mid")
	if err != nil {
		web.RespondJSONError(a.logger, w, err)
		return
	}
	h, err := a.svc.MaterialHistory(r.Context(), uid, mid)
	if errors.Is(err, review.ErrNotFound) {
		notFound(w, "Material not found or access denied", map[string]any{
			"user_id":     uid,
			"material_id": mid,
		})
		return
	}
	if err != nil {
		web.RespondJSONError(a.logger, w, err)
		return
	}
	web.RespondJSON(w, h)
}

func (a *app) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	uid, err := pathID(r, "uid")
	if err != nil {
		web.RespondJSONError(a.logger, w, err)
		return
	}
	n, err := a.notifier.SendDigest(r.Context(), uid)
	if errors.Is(err, notify.ErrNothingDue) || errors.Is(err, review.ErrNotFound) {
		notFound(w, "No repetitions found for user", nil)
		return
	}
	if err != nil {
		web.RespondJSONError(a.logger, w, err)
		return
	}
	web.RespondJSON(w, map[string]any{
		"status":            "sent",
		"user_id":           uid,
		"repetitions_count": n,
	})
}
