// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package review

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.astrophena.name/ebbinghaus/internal/ebbinghaus"
	"go.astrophena.name/ebbinghaus/internal/store"
	"go.astrophena.name/ebbinghaus/internal/tz"
)

func newRepetition(m *store.Material, at time.Time, stage ebbinghaus.Stage, loc *time.Location, now time.Time) *store.Repetition {
	return &store.Repetition{
		MaterialID:    m.ID,
		UserID:        m.UserID,
		ScheduledDate: tz.Date(at, loc),
		ScheduledAt:   at.UTC(),
		Kind:          stage.Name(),
		IntervalDays:  ebbinghaus.IntervalDays(stage),
		Stage:         int(stage),
		CreatedAt:     now.UTC(),
	}
}

// replacePending cancels all pending reviews of m and schedules r instead.
func replacePending(ctx context.Context, q store.Querier, m *store.Material, r *store.Repetition) error {
	if _, err := q.DeletePendingRepetitions(ctx, m.UserID, m.ID); err != nil {
		return err
	}
	return q.CreateRepetition(ctx, r)
}

// ScheduleInitial replaces the pending reviews of m with the three reviews of
// the first day: immediately, in 20 minutes and in the evening.
func (s *Service) ScheduleInitial(ctx context.Context, m *store.Material) ([]*store.Repetition, error) {
	var reps []*store.Repetition
	err := s.store.Tx(ctx, func(q store.Querier) error {
		var err error
		reps, err = s.scheduleInitial(ctx, q, m)
		return err
	})
	return reps, err
}

func (s *Service) scheduleInitial(ctx context.Context, q store.Querier, m *store.Material) ([]*store.Repetition, error) {
	loc, err := s.userLocation(ctx, q, m.UserID)
	if err != nil {
		return nil, err
	}
	if _, err := q.DeletePendingRepetitions(ctx, m.UserID, m.ID); err != nil {
		return nil, err
	}

	now := s.now()
	created := m.CreatedAt.In(loc)
	shortTerm, shortTermStage := ebbinghaus.Next(created, 0, loc, nil)
	evening, eveningStage := ebbinghaus.Next(created, 1, loc, nil)
	reps := []*store.Repetition{
		newRepetition(m, created, 0, loc, now),
		newRepetition(m, shortTerm, shortTermStage, loc, now),
		newRepetition(m, evening, eveningStage, loc, now),
	}
	for _, r := range reps {
		// Intraday reviews are counted in days from creation.
		r.IntervalDays = 0
		if err := q.CreateRepetition(ctx, r); err != nil {
			return nil, err
		}
	}
	s.logger.Debug("scheduled initial reviews", "material_id", m.ID, "count", len(reps))
	return reps, nil
}

// Study adds a material of a user and schedules its initial reviews
// atomically.
func (s *Service) Study(ctx context.Context, userID int64, content string) (*store.Material, error) {
	ms, err := s.StudyAll(ctx, userID, []string{content})
	if err != nil {
		return nil, err
	}
	return ms[0], nil
}

// StudyAll adds several materials of a user at once. Either all of them are
// added with their initial reviews or none.
func (s *Service) StudyAll(ctx context.Context, userID int64, contents []string) ([]*store.Material, error) {
	var ms []*store.Material
	err := s.store.Tx(ctx, func(q store.Querier) error {
		ms = ms[:0]
		for _, content := range contents {
			m, err := s.addMaterial(ctx, q, userID, content)
			if err != nil {
				return err
			}
			if _, err := s.scheduleInitial(ctx, q, m); err != nil {
				return err
			}
			ms = append(ms, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, m := range ms {
		s.logger.Info("added material", "user_id", userID, "material_id", m.ID)
	}
	return ms, nil
}

// Due returns the pending reviews of a user for date, one per material.
//
// Intraday reviews are only due on their own date. Long-term reviews are due
// on their date and stay due until done. A zero userID selects all users, and
// a zero date means today.
func (s *Service) Due(ctx context.Context, userID int64, date time.Time) ([]Item, error) {
	loc, err := s.userLocation(ctx, s.store, userID)
	if err != nil {
		return nil, err
	}
	if date.IsZero() {
		date = s.Today(loc)
	}

	intraday, err := s.store.ListRepetitions(ctx, store.RepetitionFilter{
		UserID:      userID,
		PendingOnly: true,
		Kinds:       ebbinghaus.IntradayKinds,
		DateFrom:    date,
		DateTo:      date,
	})
	if err != nil {
		return nil, err
	}
	longTerm, err := s.store.ListRepetitions(ctx, store.RepetitionFilter{
		UserID:      userID,
		PendingOnly: true,
		Kinds:       ebbinghaus.LongTermKinds,
		DateTo:      date,
	})
	if err != nil {
		return nil, err
	}

	items, err := withContent(ctx, s.store, append(intraday, longTerm...), true)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(items, compareItems)

	seen := make(map[int64]bool)
	unique := items[:0]
	for _, it := range items {
		if seen[it.MaterialID] {
			s.logger.Warn("skipping duplicate review", "material_id", it.MaterialID, "repetition_id", it.ID)
			continue
		}
		seen[it.MaterialID] = true
		unique = append(unique, it)
	}
	return unique, nil
}

// Outcome is the result of [Service.Complete].
type Outcome struct {
	// Completed is the review that has been completed.
	Completed store.Repetition
	// Next is the review scheduled instead.
	Next store.Repetition
}

// Complete records the result of a pending review of a user.
//
// After a success the material moves to the next stage. After a failure it
// moves one stage back and is due the next morning. Either way, the other
// pending reviews of the material are replaced by the single next one.
func (s *Service) Complete(ctx context.Context, userID, id int64, success bool) (*Outcome, error) {
	var out Outcome
	err := s.store.Tx(ctx, func(q store.Querier) error {
		r, err := q.GetRepetition(ctx, id)
		if err != nil {
			return err
		}
		if r.UserID != userID || r.Completed {
			return fmt.Errorf("pending review %d of user %d: %w", id, userID, ErrNotFound)
		}
		loc, err := s.userLocation(ctx, q, userID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		r.Completed = true
		r.CompletedAt = &now
		if err := q.UpdateRepetition(ctx, r); err != nil {
			return err
		}
		if err := q.CreateResult(ctx, &store.Result{
			ScheduleID:  r.ID,
			UserID:      userID,
			MaterialID:  r.MaterialID,
			Success:     success,
			CompletedAt: now,
		}); err != nil {
			return err
		}
		delta := store.StatsDelta{Failed: 1}
		if success {
			delta = store.StatsDelta{Successful: 1}
		}
		if err := q.AddDailyStats(ctx, userID, s.Today(loc), delta); err != nil {
			return err
		}
		out.Completed = *r

		m, err := q.GetMaterial(ctx, r.MaterialID)
		if err != nil {
			return err
		}
		var next *store.Repetition
		if success {
			next, err = s.advance(ctx, q, m, ebbinghaus.Stage(r.Stage), now, loc)
		} else {
			next, err = s.markFailed(ctx, q, m, now, loc)
		}
		if err != nil {
			return err
		}
		out.Next = *next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("completed review",
		"user_id", userID,
		"repetition_id", id,
		"success", success,
		"next_stage", out.Next.Stage,
		"next_at", out.Next.ScheduledAt,
	)
	return &out, nil
}

func (s *Service) advance(ctx context.Context, q store.Querier, m *store.Material, stage ebbinghaus.Stage, now time.Time, loc *time.Location) (*store.Repetition, error) {
	m.LastSuccessAt = &now
	at, next := ebbinghaus.Next(m.CreatedAt, stage, loc, m.LastSuccessAt)
	// Past the monthly stage the material keeps counting successes, so a
	// later failure leaves it monthly.
	m.Stage = int(stage) + 1
	if err := q.UpdateMaterial(ctx, m); err != nil {
		return nil, err
	}
	r := newRepetition(m, at, next, loc, now)
	if err := replacePending(ctx, q, m, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) markFailed(ctx context.Context, q store.Querier, m *store.Material, at time.Time, loc *time.Location) (*store.Repetition, error) {
	next, stage := ebbinghaus.Failed(at, ebbinghaus.Stage(m.Stage), loc)
	m.Stage = int(stage)
	if err := q.UpdateMaterial(ctx, m); err != nil {
		return nil, err
	}
	r := newRepetition(m, next, stage, loc, s.now())
	if err := replacePending(ctx, q, m, r); err != nil {
		return nil, err
	}
	return r, nil
}

// MarkFailed records that a user failed to review a material at the given
// time: the material moves one stage back and is due the next morning.
func (s *Service) MarkFailed(ctx context.Context, userID, materialID int64, at time.Time) error {
	return s.store.Tx(ctx, func(q store.Querier) error {
		m, err := q.GetMaterial(ctx, materialID)
		if err != nil {
			return err
		}
		if m.UserID != userID {
			return fmt.Errorf("material %d: %w", materialID, ErrNotFound)
		}
		loc, err := s.userLocation(ctx, q, userID)
		if err != nil {
			return err
		}
		if _, err := s.markFailed(ctx, q, m, at, loc); err != nil {
			return err
		}
		return q.AddDailyStats(ctx, userID, tz.Date(at, loc), store.StatsDelta{Failed: 1})
	})
}

// CompleteAll completes all reviews of a user due today and returns how many
// were completed.
func (s *Service) CompleteAll(ctx context.Context, userID int64, success bool) (int, error) {
	items, err := s.Due(ctx, userID, time.Time{})
	if err != nil {
		return 0, err
	}
	var n int
	for _, it := range items {
		if _, err := s.Complete(ctx, userID, it.ID, success); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Schedule returns the reviews of a user from today to daysAhead days later,
// ordered by date and stage.
func (s *Service) Schedule(ctx context.Context, userID int64, daysAhead int, includeCompleted bool) ([]Item, error) {
	loc, err := s.userLocation(ctx, s.store, userID)
	if err != nil {
		return nil, err
	}
	today := s.Today(loc)
	reps, err := s.store.ListRepetitions(ctx, store.RepetitionFilter{
		UserID:      userID,
		PendingOnly: !includeCompleted,
		DateFrom:    today,
		DateTo:      tz.AddDays(today, daysAhead),
	})
	if err != nil {
		return nil, err
	}
	return withContent(ctx, s.store, reps, false)
}

// MaterialSchedule returns all reviews of a material, done or not.
func (s *Service) MaterialSchedule(ctx context.Context, materialID int64) ([]*store.Repetition, error) {
	return s.store.ListRepetitions(ctx, store.RepetitionFilter{MaterialID: materialID})
}

// History describes a material and its reviews.
type History struct {
	UserID             int64          `json:"user_id"`
	MaterialID         int64          `json:"material_id"`
	MaterialText       string         `json:"material_text"`
	CreatedAt          time.Time      `json:"created_at"`
	CurrentStage       int            `json:"current_stage"`
	NextDueAt          *time.Time     `json:"next_due_at"`
	NextRepetitionType *string        `json:"next_repetition_type"`
	Timezone           string         `json:"timezone"`
	History            []HistoryEntry `json:"history"`
}

// HistoryEntry is a completed review.
type HistoryEntry struct {
	Stage          int        `json:"stage"`
	RepetitionType string     `json:"repetition_type"`
	PlannedAt      time.Time  `json:"planned_at"`
	DoneAt         *time.Time `json:"done_at"`
	Result         string     `json:"result"` // "success" or "failed"
}

// MaterialHistory returns the review history of a material of a user.
func (s *Service) MaterialHistory(ctx context.Context, userID, materialID int64) (*History, error) {
	m, err := s.store.GetMaterial(ctx, materialID)
	if err != nil {
		return nil, err
	}
	if m.UserID != userID {
		return nil, fmt.Errorf("material %d: %w", materialID, ErrNotFound)
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	loc := s.Location(u)

	reps, err := s.MaterialSchedule(ctx, materialID)
	if err != nil {
		return nil, err
	}
	results, err := s.store.ListResults(ctx, materialID)
	if err != nil {
		return nil, err
	}
	succeeded := make(map[int64]bool, len(results))
	for _, r := range results {
		succeeded[r.ScheduleID] = r.Success
	}

	h := &History{
		UserID:       userID,
		MaterialID:   materialID,
		MaterialText: m.Content,
		CreatedAt:    m.CreatedAt.In(loc),
		CurrentStage: m.Stage,
		Timezone:     loc.String(),
		History:      []HistoryEntry{},
	}
	for _, r := range reps {
		if !r.Completed {
			if h.NextDueAt == nil {
				next := r.ScheduledAt.In(loc)
				h.NextDueAt = &next
				h.NextRepetitionType = &r.Kind
			}
			continue
		}
		e := HistoryEntry{
			Stage:          r.Stage,
			RepetitionType: r.Kind,
			PlannedAt:      r.ScheduledAt.In(loc),
			Result:         "failed",
		}
		if r.CompletedAt != nil {
			done := r.CompletedAt.In(loc)
			e.DoneAt = &done
		}
		if succeeded[r.ID] {
			e.Result = "success"
		}
		h.History = append(h.History, e)
	}
	return h, nil
}

// Overdue returns the pending long-term reviews of a user that were due
// before today. A zero userID selects all users.
func (s *Service) Overdue(ctx context.Context, userID int64) ([]Item, error) {
	loc, err := s.userLocation(ctx, s.store, userID)
	if err != nil {
		return nil, err
	}
	reps, err := s.store.ListRepetitions(ctx, store.RepetitionFilter{
		UserID:      userID,
		PendingOnly: true,
		Kinds:       ebbinghaus.LongTermKinds,
		DateTo:      tz.AddDays(s.Today(loc), -1),
	})
	if err != nil {
		return nil, err
	}
	return withContent(ctx, s.store, reps, true)
}

// ExpireIntraday marks the intraday reviews left pending from previous days
// as failed and returns how many were expired. Materials left without
// pending reviews are rescheduled for the next morning, one stage back.
func (s *Service) ExpireIntraday(ctx context.Context) (int, error) {
	var n int
	err := s.store.Tx(ctx, func(q store.Querier) error {
		n = 0
		reps, err := q.ListRepetitions(ctx, store.RepetitionFilter{
			PendingOnly: true,
			Kinds:       ebbinghaus.IntradayKinds,
		})
		if err != nil {
			return err
		}

		now := s.now().UTC()
		locs := make(map[int64]*time.Location)
		location := func(userID int64) (*time.Location, error) {
			if loc, ok := locs[userID]; ok {
				return loc, nil
			}
			loc, err := s.userLocation(ctx, q, userID)
			locs[userID] = loc
			return loc, err
		}

		var touched []int64
		for _, r := range reps {
			loc, err := location(r.UserID)
			if err != nil {
				return err
			}
			today := tz.Date(now, loc)
			if !r.ScheduledDate.Before(today) {
				continue
			}
			r.Completed = true
			r.CompletedAt = &now
			if err := q.UpdateRepetition(ctx, r); err != nil {
				return err
			}
			if err := q.CreateResult(ctx, &store.Result{
				ScheduleID:  r.ID,
				UserID:      r.UserID,
				MaterialID:  r.MaterialID,
				CompletedAt: now,
			}); err != nil {
				return err
			}
			if err := q.AddDailyStats(ctx, r.UserID, today, store.StatsDelta{Failed: 1}); err != nil {
				return err
			}
			if !slices.Contains(touched, r.MaterialID) {
				touched = append(touched, r.MaterialID)
			}
			n++
		}

		for _, id := range touched {
			pending, err := q.ListRepetitions(ctx, store.RepetitionFilter{MaterialID: id, PendingOnly: true})
			if err != nil {
				return err
			}
			if len(pending) > 0 {
				continue
			}
			m, err := q.GetMaterial(ctx, id)
			if err != nil {
				return err
			}
			if !m.IsActive {
				continue
			}
			loc, err := location(m.UserID)
			if err != nil {
				return err
			}
			if _, err := s.markFailed(ctx, q, m, now, loc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired intraday reviews", "count", n)
	}
	return n, nil
}

// PendingReminders returns the short-term and evening reviews that are due
// by now and have no reminder sent yet. Reviews left from previous days are
// skipped.
func (s *Service) PendingReminders(ctx context.Context, now time.Time) ([]Item, error) {
	reps, err := s.store.ListRepetitions(ctx, store.RepetitionFilter{
		PendingOnly: true,
		Kinds:       []string{ebbinghaus.ShortTerm, ebbinghaus.Evening},
		DueBy:       now,
		Unreminded:  true,
	})
	if err != nil {
		return nil, err
	}
	locs := make(map[int64]*time.Location)
	var today []*store.Repetition
	for _, r := range reps {
		loc, ok := locs[r.UserID]
		if !ok {
			if loc, err = s.userLocation(ctx, s.store, r.UserID); err != nil {
				return nil, err
			}
			locs[r.UserID] = loc
		}
		if r.ScheduledDate.Equal(tz.Date(now, loc)) {
			today = append(today, r)
		}
	}
	return withContent(ctx, s.store, today, true)
}

// MarkReminded records that a reminder about the review has been sent.
func (s *Service) MarkReminded(ctx context.Context, id int64) error {
	return s.store.Tx(ctx, func(q store.Querier) error {
		r, err := q.GetRepetition(ctx, id)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		r.RemindedAt = &now
		return q.UpdateRepetition(ctx, r)
	})
}

// Cleanup removes the history of deactivated materials older than olderThan
// and returns how many reviews were removed.
func (s *Service) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := s.store.DeleteCompleted(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	s.logger.Info("cleaned up old reviews", "count", n)
	return n, nil
}
