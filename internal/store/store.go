// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package store persists users, study materials, their review schedule,
// review results and daily statistics.
//
// There are two implementations: [MemStore] keeps everything in memory and
// [PostgresStore] uses PostgreSQL. Both satisfy the same contract, checked by
// the tests of this package.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating a row that already exists.
	ErrAlreadyExists = errors.New("already exists")
)

// User is a Telegram user of the bot.
type User struct {
	ID        int64 // Telegram user ID
	Username  string
	FirstName string
	CreatedAt time.Time
	// Timezone is an IANA time zone name, like "Asia/Yekaterinburg".
	Timezone string
	// NotificationTime is the time of the daily digest in the "HH:MM" format.
	NotificationTime string
	IsActive         bool
	// IsAcknowledged is set when the user has read the introduction.
	IsAcknowledged bool
}

// Material is a piece of studied content.
type Material struct {
	ID            int64
	UserID        int64
	Content       string
	CreatedAt     time.Time
	IsActive      bool
	Stage         int
	LastSuccessAt *time.Time
}

// Repetition is a scheduled review of a material.
type Repetition struct {
	ID         int64
	MaterialID int64
	UserID     int64
	// ScheduledDate is the civil date of the review in the user's time zone,
	// as midnight UTC.
	ScheduledDate time.Time
	// ScheduledAt is the exact moment of the review.
	ScheduledAt  time.Time
	Kind         string
	IntervalDays int
	Stage        int
	Completed    bool
	CompletedAt  *time.Time
	// RemindedAt is set when a reminder about this review has been sent.
	RemindedAt *time.Time
	CreatedAt  time.Time
}

// Result is an outcome of a review.
type Result struct {
	ID          int64
	ScheduleID  int64
	UserID      int64
	MaterialID  int64
	Success     bool
	CompletedAt time.Time
}

// DailyStats are the counters of a user for one day.
type DailyStats struct {
	UserID         int64
	Date           time.Time // midnight UTC
	Successful     int
	Failed         int
	MaterialsAdded int
	UpdatedAt      time.Time
}

// StatsDelta is added to the daily statistics by [Querier.AddDailyStats].
type StatsDelta struct {
	Successful     int
	Failed         int
	MaterialsAdded int
}

// MaterialFilter selects materials. Results are ordered from newest to
// oldest.
type MaterialFilter struct {
	UserID     int64
	ActiveOnly bool
	// Query, if set, matches materials containing it, ignoring case.
	Query string
	// Limit is the maximum number of results. Zero means no limit.
	Limit int
}

// RepetitionFilter selects repetitions. Zero fields don't restrict the
// results. Results are ordered by scheduled date, stage, creation time and
// ID.
type RepetitionFilter struct {
	UserID      int64
	MaterialID  int64
	PendingOnly bool
	// Kinds, if set, limits the results to these kinds of reviews.
	Kinds []string
	// DateFrom and DateTo bound the scheduled date, inclusively.
	DateFrom time.Time
	DateTo   time.Time
	// DueBy, if set, limits the results to reviews scheduled at or before it.
	DueBy time.Time
	// Unreminded limits the results to reviews without a sent reminder.
	Unreminded bool
}

// Querier contains the operations available both on a [Store] and inside a
// transaction.
type Querier interface {
	CreateUser(ctx context.Context, u *User) error
	// GetUser returns ErrNotFound if there is no such user.
	GetUser(ctx context.Context, id int64) (*User, error)
	UpdateUser(ctx context.Context, u *User) error
	ListUsers(ctx context.Context, activeOnly bool) ([]*User, error)

	// CreateMaterial sets m.ID.
	CreateMaterial(ctx context.Context, m *Material) error
	GetMaterial(ctx context.Context, id int64) (*Material, error)
	UpdateMaterial(ctx context.Context, m *Material) error
	ListMaterials(ctx context.Context, f MaterialFilter) ([]*Material, error)
	CountMaterials(ctx context.Context, userID int64, activeOnly bool) (int, error)

	// CreateRepetition sets r.ID.
	CreateRepetition(ctx context.Context, r *Repetition) error
	GetRepetition(ctx context.Context, id int64) (*Repetition, error)
	UpdateRepetition(ctx context.Context, r *Repetition) error
	// DeletePendingRepetitions removes not completed repetitions of a
	// material and returns how many were removed.
	DeletePendingRepetitions(ctx context.Context, userID, materialID int64) (int, error)
	ListRepetitions(ctx context.Context, f RepetitionFilter) ([]*Repetition, error)

	// CreateResult sets r.ID.
	CreateResult(ctx context.Context, r *Result) error
	ListResults(ctx context.Context, materialID int64) ([]*Result, error)

	// AddDailyStats adds delta to the statistics of a user for a date,
	// creating them if needed.
	AddDailyStats(ctx context.Context, userID int64, date time.Time, delta StatsDelta) error
	ListDailyStats(ctx context.Context, userID int64) ([]*DailyStats, error)

	// DeleteCompleted removes completed repetitions of deactivated materials
	// that were completed before the cutoff, along with their results. It
	// returns how many repetitions were removed.
	DeleteCompleted(ctx context.Context, before time.Time) (int, error)
}

// Store is a persistent storage.
type Store interface {
	Querier
	// Tx runs f in a transaction. If f returns an error, nothing it did is
	// kept.
	Tx(ctx context.Context, f func(Querier) error) error
	// Ping checks that the storage is reachable.
	Ping(ctx context.Context) error
	// Close releases the resources held by the store.
	Close() error
}
