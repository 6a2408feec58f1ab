// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.astrophena.name/ebbinghaus/internal/ebbinghaus"
	"go.astrophena.name/ebbinghaus/internal/store"
	"go.astrophena.name/ebbinghaus/internal/testutil"
)

const testUserID = 42

var yekaterinburg = time.FixedZone("+05", 5*60*60)

// clock is a controllable time source.
type clock struct{ now time.Time }

func (c *clock) Now() time.Time            { return c.now }
func (c *clock) set(day, hour, minute int) { c.now = at(day, hour, minute) }

func at(day, hour, minute int) time.Time {
	return time.Date(2025, 3, day, hour, minute, 0, 0, yekaterinburg)
}

func date(day int) time.Time { return time.Date(2025, 3, day, 0, 0, 0, 0, time.UTC) }

func newTestService(t *testing.T) (*Service, *clock) {
	t.Helper()
	c := &clock{now: at(10, 10, 0)}
	s, err := New(Config{
		Store: store.NewMemStore(),
		Now:   c.Now,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.EnsureUser(context.Background(), testUserID, "alice", "Alice"); err != nil {
		t.Fatal(err)
	}
	return s, c
}

func study(t *testing.T, s *Service, content string) *store.Material {
	t.Helper()
	m, err := s.Study(context.Background(), testUserID, content)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func pending(t *testing.T, s *Service, materialID int64) []*store.Repetition {
	t.Helper()
	reps, err := s.store.ListRepetitions(context.Background(), store.RepetitionFilter{
		MaterialID:  materialID,
		PendingOnly: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return reps
}

func totals(t *testing.T, s *Service) (successful, failed, added int) {
	t.Helper()
	daily, err := s.store.ListDailyStats(context.Background(), testUserID)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range daily {
		successful += d.Successful
		failed += d.Failed
		added += d.MaterialsAdded
	}
	return successful, failed, added
}

func TestNew(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		c       Config
		wantErr error
	}{
		"no store": {
			c: Config{},
		},
		"invalid time zone": {
			c:       Config{Store: store.NewMemStore(), DefaultTimezone: "Mars/Olympus"},
			wantErr: ErrInvalidTimezone,
		},
		"invalid notification time": {
			c:       Config{Store: store.NewMemStore(), DefaultNotificationTime: "seven"},
			wantErr: ErrInvalidNotificationTime,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(tc.c)
			if err == nil {
				t.Fatal("want error, got nil")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
		})
	}

	s, err := New(Config{Store: store.NewMemStore()})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, s.DefaultLocation().String(), DefaultTimezone)
	testutil.AssertEqual(t, s.DefaultNotificationTime(), DefaultNotificationTime)
}

func TestEnsureUser(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()

	u, err := s.EnsureUser(ctx, testUserID, "bob", "")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, u.Username, "bob")
	testutil.AssertEqual(t, u.FirstName, "Alice")
	testutil.AssertEqual(t, u.Timezone, DefaultTimezone)
	testutil.AssertEqual(t, u.NotificationTime, DefaultNotificationTime)
	testutil.AssertEqual(t, u.IsActive, true)

	if err := s.Acknowledge(ctx, testUserID); err != nil {
		t.Fatal(err)
	}
	if err := s.SetActive(ctx, testUserID, false); err != nil {
		t.Fatal(err)
	}
	u, err = s.User(ctx, testUserID)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, u.IsAcknowledged, true)
	testutil.AssertEqual(t, u.IsActive, false)

	active, err := s.ActiveUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(active), 0)
}

func TestUpdateSettings(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()

	u, err := s.UpdateSettings(ctx, testUserID, Settings{Timezone: "Europe/Moscow", NotificationTime: "9:30"})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, u.Timezone, "Europe/Moscow")
	testutil.AssertEqual(t, u.NotificationTime, "09:30")

	if _, err := s.UpdateSettings(ctx, testUserID, Settings{Timezone: "Nowhere/City"}); !errors.Is(err, ErrInvalidTimezone) {
		t.Fatalf("want ErrInvalidTimezone, got %v", err)
	}
	if _, err := s.UpdateSettings(ctx, testUserID, Settings{NotificationTime: "25:00"}); !errors.Is(err, ErrInvalidNotificationTime) {
		t.Fatalf("want ErrInvalidNotificationTime, got %v", err)
	}
	if _, err := s.UpdateSettings(ctx, 1, Settings{Timezone: "UTC"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestStudy(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()

	if _, err := s.Study(ctx, testUserID, "   "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("want ErrEmptyContent, got %v", err)
	}

	m := study(t, s, "  Гипотенуза  ")
	testutil.AssertEqual(t, m.Content, "Гипотенуза")
	testutil.AssertEqual(t, m.Stage, 0)

	type planned struct {
		Kind  string
		Stage int
		At    time.Time
		Date  time.Time
	}
	var got []planned
	for _, r := range pending(t, s, m.ID) {
		got = append(got, planned{r.Kind, r.Stage, r.ScheduledAt, r.ScheduledDate})
	}
	testutil.AssertEqual(t, got, []planned{
		{ebbinghaus.Immediate, 0, at(10, 10, 0).UTC(), date(10)},
		{ebbinghaus.ShortTerm, 1, at(10, 10, 20).UTC(), date(10)},
		{ebbinghaus.Evening, 2, at(10, 20, 0).UTC(), date(10)},
	})

	_, _, added := totals(t, s)
	testutil.AssertEqual(t, added, 1)
}

func TestStudyAll(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()

	// One bad question leaves nothing behind.
	if _, err := s.StudyAll(ctx, testUserID, []string{"Что такое ATP?", "  "}); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("want ErrEmptyContent, got %v", err)
	}
	ms, err := s.Materials(ctx, testUserID, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(ms), 0)
	_, _, added := totals(t, s)
	testutil.AssertEqual(t, added, 0)

	got, err := s.StudyAll(ctx, testUserID, []string{"Что такое ATP?", "Где синтезируется ATP?"})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(got), 2)
	for _, m := range got {
		testutil.AssertEqual(t, len(pending(t, s, m.ID)), 3)
	}
	_, _, added = totals(t, s)
	testutil.AssertEqual(t, added, 2)
}

func TestDue(t *testing.T) {
	t.Parallel()

	s, c := newTestService(t)
	ctx := context.Background()

	first := study(t, s, "first")
	second := study(t, s, "second")

	items, err := s.Due(ctx, testUserID, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(items), 2)
	testutil.AssertEqual(t, items[0].MaterialID, first.ID)
	testutil.AssertEqual(t, items[0].Kind, ebbinghaus.Immediate)
	testutil.AssertEqual(t, items[0].Content, "first")
	testutil.AssertEqual(t, items[1].MaterialID, second.ID)

	// Intraday reviews are not due on other days.
	items, err = s.Due(ctx, testUserID, date(11))
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(items), 0)

	if err := s.DeactivateMaterial(ctx, testUserID, second.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeactivateMaterial(ctx, 1, first.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	testutil.AssertEqual(t, len(pending(t, s, second.ID)), 0)

	// Long-term reviews stay due until done.
	if err := s.MarkFailed(ctx, testUserID, first.ID, at(10, 12, 0)); err != nil {
		t.Fatal(err)
	}
	c.set(14, 9, 0)
	items, err = s.Due(ctx, testUserID, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(items), 0)

	m, err := s.Material(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	m.Stage = 5
	if err := s.store.UpdateMaterial(ctx, m); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkFailed(ctx, testUserID, first.ID, at(10, 12, 0)); err != nil {
		t.Fatal(err)
	}
	items, err = s.Due(ctx, testUserID, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(items), 1)
	testutil.AssertEqual(t, items[0].Kind, ebbinghaus.Day3)

	overdue, err := s.Overdue(ctx, testUserID)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(overdue), 1)
}

func TestComplete(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()

	m := study(t, s, "Пифагор")
	reps := pending(t, s, m.ID)

	out, err := s.Complete(ctx, testUserID, reps[0].ID, true)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, out.Completed.ID, reps[0].ID)
	testutil.AssertEqual(t, out.Completed.Completed, true)
	testutil.AssertEqual(t, out.Next.Kind, ebbinghaus.ShortTerm)
	testutil.AssertEqual(t, out.Next.Stage, 1)
	testutil.AssertEqual(t, out.Next.ScheduledAt, at(10, 10, 20).UTC())

	// The other pending reviews are replaced.
	left := pending(t, s, m.ID)
	testutil.AssertEqual(t, len(left), 1)
	testutil.AssertEqual(t, left[0].ID, out.Next.ID)

	got, err := s.Material(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, got.Stage, 1)
	if got.LastSuccessAt == nil {
		t.Fatal("LastSuccessAt is not set")
	}

	if _, err := s.Complete(ctx, testUserID, reps[0].ID, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("completing twice: want ErrNotFound, got %v", err)
	}
	if _, err := s.Complete(ctx, 1, out.Next.ID, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("completing review of another user: want ErrNotFound, got %v", err)
	}

	out, err = s.Complete(ctx, testUserID, out.Next.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, out.Next.Kind, ebbinghaus.Immediate)
	testutil.AssertEqual(t, out.Next.Stage, 0)
	testutil.AssertEqual(t, out.Next.ScheduledAt, at(11, 7, 0).UTC())
	testutil.AssertEqual(t, out.Next.ScheduledDate, date(11))

	successful, failed, _ := totals(t, s)
	testutil.AssertEqual(t, successful, 1)
	testutil.AssertEqual(t, failed, 1)

	results, err := s.store.ListResults(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(results), 2)
}

func TestCompleteLongTerm(t *testing.T) {
	t.Parallel()

	s, c := newTestService(t)
	ctx := context.Background()

	m := study(t, s, "Теорема")
	// Walk the material through all stages.
	wantKinds := []string{
		ebbinghaus.ShortTerm,
		ebbinghaus.Evening,
		ebbinghaus.Day1,
		ebbinghaus.Day3,
		ebbinghaus.Day7,
		ebbinghaus.Day14,
		ebbinghaus.Day30,
		ebbinghaus.Monthly,
		ebbinghaus.Monthly,
	}
	var last *Outcome
	for i, want := range wantKinds {
		reps := pending(t, s, m.ID)
		testutil.AssertEqual(t, len(reps), 1+2*boolInt(i == 0))
		c.now = reps[0].ScheduledAt
		out, err := s.Complete(ctx, testUserID, reps[0].ID, true)
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, out.Next.Kind, want)
		last = out
	}
	testutil.AssertEqual(t, last.Next.Stage, int(ebbinghaus.MaxStage))
	testutil.AssertEqual(t, last.Next.IntervalDays, 30)

	got, err := s.Material(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, got.Stage, int(ebbinghaus.MaxStage)+1)

	// Failing a monthly review keeps the material monthly.
	reps := pending(t, s, m.ID)
	testutil.AssertEqual(t, len(reps), 1)
	c.now = reps[0].ScheduledAt
	out, err := s.Complete(ctx, testUserID, reps[0].ID, false)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, out.Next.Kind, ebbinghaus.Monthly)
	testutil.AssertEqual(t, out.Next.Stage, int(ebbinghaus.MaxStage))
	got, err = s.Material(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, got.Stage, int(ebbinghaus.MaxStage))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestCompleteAll(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()

	study(t, s, "one")
	study(t, s, "two")

	n, err := s.CompleteAll(ctx, testUserID, true)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, n, 2)

	successful, _, _ := totals(t, s)
	testutil.AssertEqual(t, successful, 2)
}

func TestExpireIntraday(t *testing.T) {
	t.Parallel()

	s, c := newTestService(t)
	ctx := context.Background()

	m := study(t, s, "Закон Ома")

	n, err := s.ExpireIntraday(ctx)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, n, 0)

	c.set(11, 10, 0)
	n, err = s.ExpireIntraday(ctx)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, n, 3)

	reps := pending(t, s, m.ID)
	testutil.AssertEqual(t, len(reps), 1)
	testutil.AssertEqual(t, reps[0].Kind, ebbinghaus.Immediate)
	testutil.AssertEqual(t, reps[0].ScheduledAt, at(12, 7, 0).UTC())

	_, failed, _ := totals(t, s)
	testutil.AssertEqual(t, failed, 3)
}

func TestPendingReminders(t *testing.T) {
	t.Parallel()

	s, c := newTestService(t)
	ctx := context.Background()

	study(t, s, "reminder")

	c.set(10, 10, 25)
	items, err := s.PendingReminders(ctx, c.now)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(items), 1)
	testutil.AssertEqual(t, items[0].Kind, ebbinghaus.ShortTerm)

	if err := s.MarkReminded(ctx, items[0].ID); err != nil {
		t.Fatal(err)
	}
	items, err = s.PendingReminders(ctx, c.now)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(items), 0)

	c.set(10, 20, 5)
	items, err = s.PendingReminders(ctx, c.now)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(items), 1)
	testutil.AssertEqual(t, items[0].Kind, ebbinghaus.Evening)

	// Reminders left from previous days are not sent.
	c.set(11, 8, 0)
	items, err = s.PendingReminders(ctx, c.now)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(items), 0)
}

func TestScheduleAndHistory(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()

	m := study(t, s, "История")

	items, err := s.Schedule(ctx, testUserID, 7, false)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(items), 3)

	reps := pending(t, s, m.ID)
	if _, err := s.Complete(ctx, testUserID, reps[0].ID, true); err != nil {
		t.Fatal(err)
	}

	items, err = s.Schedule(ctx, testUserID, 7, true)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(items), 2)

	h, err := s.MaterialHistory(ctx, testUserID, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, h.MaterialText, "История")
	testutil.AssertEqual(t, h.CurrentStage, 1)
	testutil.AssertEqual(t, h.Timezone, DefaultTimezone)
	testutil.AssertEqual(t, len(h.History), 1)
	testutil.AssertEqual(t, h.History[0].Result, "success")
	testutil.AssertEqual(t, h.History[0].RepetitionType, ebbinghaus.Immediate)
	if h.NextRepetitionType == nil || *h.NextRepetitionType != ebbinghaus.ShortTerm {
		t.Fatalf("NextRepetitionType = %v, want %q", h.NextRepetitionType, ebbinghaus.ShortTerm)
	}

	if _, err := s.MaterialHistory(ctx, 1, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()

	m := study(t, s, "a")
	study(t, s, "b")
	study(t, s, "c")

	reps := pending(t, s, m.ID)
	if _, err := s.Complete(ctx, testUserID, reps[0].ID, true); err != nil {
		t.Fatal(err)
	}
	reps = pending(t, s, m.ID)
	if _, err := s.Complete(ctx, testUserID, reps[0].ID, true); err != nil {
		t.Fatal(err)
	}
	reps = pending(t, s, m.ID)
	if _, err := s.Complete(ctx, testUserID, reps[0].ID, false); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats(ctx, testUserID)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, st.TotalMaterials, 3)
	testutil.AssertEqual(t, st.ActiveMaterials, 3)
	testutil.AssertEqual(t, st.Successful, 2)
	testutil.AssertEqual(t, st.Failed, 1)
	testutil.AssertEqual(t, st.SuccessRate, 66.7)
	testutil.AssertEqual(t, st.Today, 2)

	found, err := s.SearchMaterials(ctx, testUserID, "B")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(found), 1)
}
