// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package review manages users, their study materials and the schedule of
// reviews built with the [ebbinghaus] intervals.
//
// All calendar computations, like what "today" is, happen in the time zone of
// the user. Users without a valid time zone use the default one.
package review

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.astrophena.name/ebbinghaus/internal/store"
	"go.astrophena.name/ebbinghaus/internal/tz"
)

var (
	// ErrNotFound is returned when a user, a material or a review doesn't
	// exist or belongs to another user.
	ErrNotFound = store.ErrNotFound
	// ErrEmptyContent is returned when adding a material without text.
	ErrEmptyContent = errors.New("material content is empty")
	// ErrInvalidTimezone is returned for unknown time zone names.
	ErrInvalidTimezone = errors.New("invalid time zone")
	// ErrInvalidNotificationTime is returned for times not in the HH:MM format.
	ErrInvalidNotificationTime = errors.New("invalid notification time")
)

const (
	// DefaultTimezone is used when Config.DefaultTimezone is empty.
	DefaultTimezone = "Asia/Yekaterinburg"
	// DefaultNotificationTime is used when Config.DefaultNotificationTime is
	// empty.
	DefaultNotificationTime = "07:00"
)

// Config configures a [Service].
type Config struct {
	// Store persists the data. It must be non-nil.
	Store store.Store
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// DefaultTimezone is the time zone of new users.
	DefaultTimezone string
	// DefaultNotificationTime is the daily digest time of new users.
	DefaultNotificationTime string
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Service implements the operations of the bot on top of a [store.Store].
// It is safe for concurrent use.
type Service struct {
	store      store.Store
	logger     *slog.Logger
	defaultTZ  string
	defaultLoc *time.Location
	notifyAt   string
	now        func() time.Time
}

// New returns a new Service.
func New(c Config) (*Service, error) {
	if c.Store == nil {
		return nil, errors.New("review: Config.Store is nil")
	}
	s := &Service{
		store:     c.Store,
		logger:    cmp.Or(c.Logger, slog.Default()),
		defaultTZ: cmp.Or(c.DefaultTimezone, DefaultTimezone),
		notifyAt:  cmp.Or(c.DefaultNotificationTime, DefaultNotificationTime),
		now:       c.Now,
	}
	if !tz.Valid(s.defaultTZ) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, s.defaultTZ)
	}
	if _, err := tz.ParseClock(s.notifyAt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotificationTime, err)
	}
	s.defaultLoc = tz.Load(s.defaultTZ, time.UTC)
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// DefaultLocation returns the default time zone.
func (s *Service) DefaultLocation() *time.Location { return s.defaultLoc }

// DefaultNotificationTime returns the default daily digest time.
func (s *Service) DefaultNotificationTime() string { return s.notifyAt }

// Now returns the current time, as seen by the service.
func (s *Service) Now() time.Time { return s.now() }

// Location returns the time zone of u.
func (s *Service) Location(u *store.User) *time.Location {
	if u == nil {
		return s.defaultLoc
	}
	return tz.Load(u.Timezone, s.defaultLoc)
}

// Today returns the current date in loc, as midnight UTC.
func (s *Service) Today(loc *time.Location) time.Time { return tz.Date(s.now(), loc) }

func (s *Service) userLocation(ctx context.Context, q store.Querier, userID int64) (*time.Location, error) {
	if userID == 0 {
		return s.defaultLoc, nil
	}
	u, err := q.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return s.defaultLoc, nil
	}
	if err != nil {
		return nil, err
	}
	return s.Location(u), nil
}

// Item is a scheduled review together with the text of its material.
type Item struct {
	store.Repetition
	Content string
}

// withContent attaches material texts to reps. Reviews of deactivated
// materials are dropped if skipInactive is set.
func withContent(ctx context.Context, q store.Querier, reps []*store.Repetition, skipInactive bool) ([]Item, error) {
	materials := make(map[int64]*store.Material)
	items := make([]Item, 0, len(reps))
	for _, r := range reps {
		m, ok := materials[r.MaterialID]
		if !ok {
			var err error
			m, err = q.GetMaterial(ctx, r.MaterialID)
			if err != nil {
				return nil, err
			}
			materials[r.MaterialID] = m
		}
		if skipInactive && !m.IsActive {
			continue
		}
		items = append(items, Item{Repetition: *r, Content: m.Content})
	}
	return items, nil
}

func compareItems(a, b Item) int {
	return cmp.Or(
		a.ScheduledDate.Compare(b.ScheduledDate),
		cmp.Compare(a.Stage, b.Stage),
		a.CreatedAt.Compare(b.CreatedAt),
		cmp.Compare(a.ID, b.ID),
	)
}
