// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package review

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.astrophena.name/ebbinghaus/internal/ebbinghaus"
	"go.astrophena.name/ebbinghaus/internal/store"
	"go.astrophena.name/ebbinghaus/internal/tz"
)

// EnsureUser returns the user with the given Telegram ID, creating it if
// needed. Changed non-empty username and first name are saved.
func (s *Service) EnsureUser(ctx context.Context, id int64, username, firstName string) (*store.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		u = &store.User{
			ID:               id,
			Username:         username,
			FirstName:        firstName,
			CreatedAt:        s.now().UTC(),
			Timezone:         s.defaultTZ,
			NotificationTime: s.notifyAt,
			IsActive:         true,
		}
		err = s.store.CreateUser(ctx, u)
		if errors.Is(err, store.ErrAlreadyExists) {
			// Lost a race with a concurrent update from the same user.
			return s.store.GetUser(ctx, id)
		}
		if err != nil {
			return nil, err
		}
		s.logger.Info("created user", "user_id", id)
		return u, nil
	}
	if err != nil {
		return nil, err
	}

	changed := false
	if username != "" && u.Username != username {
		u.Username = username
		changed = true
	}
	if firstName != "" && u.FirstName != firstName {
		u.FirstName = firstName
		changed = true
	}
	if changed {
		if err := s.store.UpdateUser(ctx, u); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// User returns the user with the given ID.
func (s *Service) User(ctx context.Context, id int64) (*store.User, error) {
	return s.store.GetUser(ctx, id)
}

func (s *Service) updateUser(ctx context.Context, id int64, f func(u *store.User) error) (*store.User, error) {
	var u *store.User
	err := s.store.Tx(ctx, func(q store.Querier) error {
		var err error
		u, err = q.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if err := f(u); err != nil {
			return err
		}
		return q.UpdateUser(ctx, u)
	})
	return u, err
}

// Acknowledge records that the user has read the introduction.
func (s *Service) Acknowledge(ctx context.Context, id int64) error {
	_, err := s.updateUser(ctx, id, func(u *store.User) error {
		u.IsAcknowledged = true
		return nil
	})
	return err
}

// SetActive enables or disables notifications for the user.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := s.updateUser(ctx, id, func(u *store.User) error {
		u.IsActive = active
		return nil
	})
	return err
}

// Settings are the user preferences. Empty fields are left unchanged.
type Settings struct {
	Timezone         string
	NotificationTime string // HH:MM
}

// UpdateSettings validates and saves the user preferences.
func (s *Service) UpdateSettings(ctx context.Context, id int64, st Settings) (*store.User, error) {
	if st.Timezone != "" && !tz.Valid(st.Timezone) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, st.Timezone)
	}
	if st.NotificationTime != "" {
		c, err := tz.ParseClock(st.NotificationTime)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidNotificationTime, st.NotificationTime)
		}
		st.NotificationTime = c.String()
	}
	return s.updateUser(ctx, id, func(u *store.User) error {
		if st.Timezone != "" {
			u.Timezone = st.Timezone
		}
		if st.NotificationTime != "" {
			u.NotificationTime = st.NotificationTime
		}
		return nil
	})
}

// ActiveUsers returns the users that receive notifications.
func (s *Service) ActiveUsers(ctx context.Context) ([]*store.User, error) {
	return s.store.ListUsers(ctx, true)
}

// Stats summarizes the progress of a user.
type Stats struct {
	User            *store.User
	TotalMaterials  int
	ActiveMaterials int
	Successful      int
	Failed          int
	// SuccessRate is a percentage rounded to one decimal place.
	SuccessRate float64
	Upcoming    int
	Overdue     int
	Today       int
}

// Stats returns the statistics of a user.
func (s *Service) Stats(ctx context.Context, userID int64) (*Stats, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	st := &Stats{User: u}

	daily, err := s.store.ListDailyStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, d := range daily {
		st.Successful += d.Successful
		st.Failed += d.Failed
		st.TotalMaterials += d.MaterialsAdded
	}
	rate := ebbinghaus.SuccessRate(st.Successful, st.Successful+st.Failed) * 100
	st.SuccessRate = math.Round(rate*10) / 10

	if st.ActiveMaterials, err = s.CountMaterials(ctx, userID); err != nil {
		return nil, err
	}
	ns, err := s.NotificationStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	st.Upcoming, st.Overdue, st.Today = ns.Upcoming, ns.Overdue, ns.Today
	return st, nil
}

// NotificationStats counts pending reviews of a user.
type NotificationStats struct {
	Upcoming     int `json:"upcoming_count"` // within 7 days
	Overdue      int `json:"overdue_count"`
	Today        int `json:"today_count"`
	TotalPending int `json:"total_pending"`
}

// NotificationStats returns the pending review counters of a user.
func (s *Service) NotificationStats(ctx context.Context, userID int64) (*NotificationStats, error) {
	upcoming, err := s.Schedule(ctx, userID, 7, false)
	if err != nil {
		return nil, err
	}
	overdue, err := s.Overdue(ctx, userID)
	if err != nil {
		return nil, err
	}
	today, err := s.Due(ctx, userID, time.Time{})
	if err != nil {
		return nil, err
	}
	ns := &NotificationStats{
		Upcoming: len(upcoming),
		Overdue:  len(overdue),
		Today:    len(today),
	}
	for _, it := range upcoming {
		if !it.Completed {
			ns.TotalPending++
		}
	}
	return ns, nil
}

// UsesDefaultSchedule reports whether u gets the daily digest at the default
// notification time in the default time zone.
func (s *Service) UsesDefaultSchedule(u *store.User) bool {
	return (u.Timezone == "" || u.Timezone == s.defaultTZ) &&
		(u.NotificationTime == "" || u.NotificationTime == s.notifyAt)
}
