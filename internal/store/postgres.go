// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"go.astrophena.name/ebbinghaus/internal/tz"
)

// PostgresStore is a PostgreSQL implementation of the [Store] interface.
// The schema is created by [Migrate].
type PostgresStore struct {
	pgQuerier
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at databaseURL. Sessions use the
// timezone time zone, so that CURRENT_DATE and friends agree with the bot.
func NewPostgresStore(ctx context.Context, databaseURL, timezone string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	if timezone != "" {
		cfg.ConnConfig.RuntimeParams["timezone"] = timezone
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &PostgresStore{
		pgQuerier: pgQuerier{db: pool},
		pool:      pool,
	}, nil
}

// Tx runs f in a database transaction.
func (s *PostgresStore) Tx(ctx context.Context, f func(Querier) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return f(&pgQuerier{db: tx})
	})
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgQuerier struct {
	db dbtx
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return err
}

func checkAffected(tag pgconn.CommandTag, err error, what string, id int64) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}

func clockToPG(s string) (pgtype.Time, error) {
	if s == "" {
		s = "07:00"
	}
	c, err := tz.ParseClock(s)
	if err != nil {
		return pgtype.Time{}, err
	}
	us := (int64(c.Hour)*60 + int64(c.Minute)) * int64(time.Minute/time.Microsecond)
	return pgtype.Time{Microseconds: us, Valid: true}, nil
}

func clockFromPG(t pgtype.Time) string {
	mins := t.Microseconds / int64(time.Minute/time.Microsecond)
	return tz.Clock{Hour: int(mins / 60), Minute: int(mins % 60)}.String()
}

const userColumns = `user_id, COALESCE(username, ''), COALESCE(first_name, ''), created_at, timezone, notification_time, is_active, is_acknowledged`

func scanUser(row pgx.Row) (*User, error) {
	var (
		u  User
		nt pgtype.Time
	)
	if err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.CreatedAt, &u.Timezone, &nt, &u.IsActive, &u.IsAcknowledged); err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.NotificationTime = clockFromPG(nt)
	return &u, nil
}

func (q *pgQuerier) CreateUser(ctx context.Context, u *User) error {
	nt, err := clockToPG(u.NotificationTime)
	if err != nil {
		return err
	}
	u.CreatedAt = createdAt(u.CreatedAt)
	_, err = q.db.Exec(ctx, `
		INSERT INTO users (user_id, username, first_name, created_at, timezone, notification_time, is_active, is_acknowledged)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.Username, u.FirstName, u.CreatedAt, u.Timezone, nt, u.IsActive, u.IsAcknowledged)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("user %d: %w", u.ID, ErrAlreadyExists)
	}
	return err
}

func (q *pgQuerier) GetUser(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, id))
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

func (q *pgQuerier) UpdateUser(ctx context.Context, u *User) error {
	nt, err := clockToPG(u.NotificationTime)
	if err != nil {
		return err
	}
	tag, err := q.db.Exec(ctx, `
		UPDATE users
		SET username = $2, first_name = $3, timezone = $4, notification_time = $5, is_active = $6, is_acknowledged = $7
		WHERE user_id = $1
	`, u.ID, u.Username, u.FirstName, u.Timezone, nt, u.IsActive, u.IsAcknowledged)
	return checkAffected(tag, err, "user", u.ID)
}

func (q *pgQuerier) ListUsers(ctx context.Context, activeOnly bool) ([]*User, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE NOT $1 OR is_active
		ORDER BY user_id
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*User, error) { return scanUser(row) })
}

const materialColumns = `id, user_id, content, created_at, is_active, current_stage, last_success_at`

func scanMaterial(row pgx.Row) (*Material, error) {
	var m Material
	if err := row.Scan(&m.ID, &m.UserID, &m.Content, &m.CreatedAt, &m.IsActive, &m.Stage, &m.LastSuccessAt); err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.LastSuccessAt = copyTime(m.LastSuccessAt)
	return &m, nil
}

func (q *pgQuerier) CreateMaterial(ctx context.Context, m *Material) error {
	m.CreatedAt = createdAt(m.CreatedAt)
	err := q.db.QueryRow(ctx, `
		INSERT INTO study_materials (user_id, content, created_at, is_active, current_stage, last_success_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, m.UserID, m.Content, m.CreatedAt, m.IsActive, m.Stage, m.LastSuccessAt).Scan(&m.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("user %d: %w", m.UserID, ErrNotFound)
	}
	return err
}

func (q *pgQuerier) GetMaterial(ctx context.Context, id int64) (*Material, error) {
	m, err := scanMaterial(q.db.QueryRow(ctx, `SELECT `+materialColumns+` FROM study_materials WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "material", id)
	}
	return m, nil
}

func (q *pgQuerier) UpdateMaterial(ctx context.Context, m *Material) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE study_materials
		SET content = $2, is_active = $3, current_stage = $4, last_success_at = $5
		WHERE id = $1
	`, m.ID, m.Content, m.IsActive, m.Stage, m.LastSuccessAt)
	return checkAffected(tag, err, "material", m.ID)
}

// where accumulates SQL conditions and their arguments.
type where struct {
	conds []string
	args  []any
}

// add appends cond, replacing every "?" in it with the next placeholder.
func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) addRaw(cond string) { w.conds = append(w.conds, cond) }

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *where) materials(userID int64, activeOnly bool, query string) {
	if userID != 0 {
		w.add("user_id = ?", userID)
	}
	if activeOnly {
		w.addRaw("is_active")
	}
	if query != "" {
		w.add("strpos(lower(content), lower(?::text)) > 0", query)
	}
}

func (q *pgQuerier) ListMaterials(ctx context.Context, f MaterialFilter) ([]*Material, error) {
	var w where
	w.materials(f.UserID, f.ActiveOnly, f.Query)
	sql := `SELECT ` + materialColumns + ` FROM study_materials` + w.String() + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := q.db.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Material, error) { return scanMaterial(row) })
}

func (q *pgQuerier) CountMaterials(ctx context.Context, userID int64, activeOnly bool) (int, error) {
	var w where
	w.materials(userID, activeOnly, "")
	var n int
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM study_materials`+w.String(), w.args...).Scan(&n)
	return n, err
}

const repetitionColumns = `id, material_id, user_id, scheduled_date, scheduled_datetime, repetition_type, interval_days, current_stage, is_completed, completed_at, reminded_at, created_at`

func scanRepetition(row pgx.Row) (*Repetition, error) {
	var r Repetition
	if err := row.Scan(
		&r.ID, &r.MaterialID, &r.UserID, &r.ScheduledDate, &r.ScheduledAt, &r.Kind,
		&r.IntervalDays, &r.Stage, &r.Completed, &r.CompletedAt, &r.RemindedAt, &r.CreatedAt,
	); err != nil {
		return nil, err
	}
	r.ScheduledAt = r.ScheduledAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.CompletedAt = copyTime(r.CompletedAt)
	r.RemindedAt = copyTime(r.RemindedAt)
	return &r, nil
}

func (q *pgQuerier) CreateRepetition(ctx context.Context, r *Repetition) error {
	r.CreatedAt = createdAt(r.CreatedAt)
	r.ScheduledAt = r.ScheduledAt.UTC()
	err := q.db.QueryRow(ctx, `
		INSERT INTO repetition_schedule (
			material_id, user_id, scheduled_date, scheduled_datetime, repetition_type,
			interval_days, current_stage, is_completed, completed_at, reminded_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, r.MaterialID, r.UserID, r.ScheduledDate, r.ScheduledAt, r.Kind,
		r.IntervalDays, r.Stage, r.Completed, r.CompletedAt, r.RemindedAt, r.CreatedAt,
	).Scan(&r.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("material %d: %w", r.MaterialID, ErrNotFound)
	}
	return err
}

func (q *pgQuerier) GetRepetition(ctx context.Context, id int64) (*Repetition, error) {
	r, err := scanRepetition(q.db.QueryRow(ctx, `SELECT `+repetitionColumns+` FROM repetition_schedule WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "repetition", id)
	}
	return r, nil
}

func (q *pgQuerier) UpdateRepetition(ctx context.Context, r *Repetition) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE repetition_schedule
		SET scheduled_date = $2, scheduled_datetime = $3, repetition_type = $4, interval_days = $5,
			current_stage = $6, is_completed = $7, completed_at = $8, reminded_at = $9
		WHERE id = $1
	`, r.ID, r.ScheduledDate, r.ScheduledAt.UTC(), r.Kind, r.IntervalDays,
		r.Stage, r.Completed, r.CompletedAt, r.RemindedAt)
	return checkAffected(tag, err, "repetition", r.ID)
}

func (q *pgQuerier) DeletePendingRepetitions(ctx context.Context, userID, materialID int64) (int, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM repetition_schedule
		WHERE user_id = $1 AND material_id = $2 AND NOT is_completed
	`, userID, materialID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (q *pgQuerier) ListRepetitions(ctx context.Context, f RepetitionFilter) ([]*Repetition, error) {
	var w where
	if f.UserID != 0 {
		w.add("user_id = ?", f.UserID)
	}
	if f.MaterialID != 0 {
		w.add("material_id = ?", f.MaterialID)
	}
	if f.PendingOnly {
		w.addRaw("NOT is_completed")
	}
	if len(f.Kinds) > 0 {
		w.add("repetition_type = ANY(?)", f.Kinds)
	}
	if !f.DateFrom.IsZero() {
		w.add("scheduled_date >= ?", f.DateFrom)
	}
	if !f.DateTo.IsZero() {
		w.add("scheduled_date <= ?", f.DateTo)
	}
	if !f.DueBy.IsZero() {
		w.add("scheduled_datetime <= ?", f.DueBy)
	}
	if f.Unreminded {
		w.addRaw("reminded_at IS NULL")
	}

	rows, err := q.db.Query(ctx, `
		SELECT `+repetitionColumns+` FROM repetition_schedule`+w.String()+`
		ORDER BY scheduled_date, current_stage, created_at, id
	`, w.args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Repetition, error) { return scanRepetition(row) })
}

func (q *pgQuerier) CreateResult(ctx context.Context, r *Result) error {
	r.CompletedAt = createdAt(r.CompletedAt)
	err := q.db.QueryRow(ctx, `
		INSERT INTO repetition_results (schedule_id, user_id, material_id, was_successful, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, r.ScheduleID, r.UserID, r.MaterialID, r.Success, r.CompletedAt).Scan(&r.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("repetition %d: %w", r.ScheduleID, ErrNotFound)
	}
	return err
}

func (q *pgQuerier) ListResults(ctx context.Context, materialID int64) ([]*Result, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, schedule_id, user_id, material_id, was_successful, completed_at
		FROM repetition_results
		WHERE material_id = $1
		ORDER BY completed_at, id
	`, materialID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Result, error) {
		var r Result
		if err := row.Scan(&r.ID, &r.ScheduleID, &r.UserID, &r.MaterialID, &r.Success, &r.CompletedAt); err != nil {
			return nil, err
		}
		r.CompletedAt = r.CompletedAt.UTC()
		return &r, nil
	})
}

func (q *pgQuerier) AddDailyStats(ctx context.Context, userID int64, date time.Time, delta StatsDelta) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO user_statistics (user_id, date, successful_repetitions, failed_repetitions, total_materials_added, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_id, date) DO UPDATE SET
			successful_repetitions = user_statistics.successful_repetitions + EXCLUDED.successful_repetitions,
			failed_repetitions = user_statistics.failed_repetitions + EXCLUDED.failed_repetitions,
			total_materials_added = user_statistics.total_materials_added + EXCLUDED.total_materials_added,
			updated_at = now()
	`, userID, date, delta.Successful, delta.Failed, delta.MaterialsAdded)
	return err
}

func (q *pgQuerier) ListDailyStats(ctx context.Context, userID int64) ([]*DailyStats, error) {
	rows, err := q.db.Query(ctx, `
		SELECT user_id, date, successful_repetitions, failed_repetitions, total_materials_added, updated_at
		FROM user_statistics
		WHERE user_id = $1
		ORDER BY date
	`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*DailyStats, error) {
		var s DailyStats
		if err := row.Scan(&s.UserID, &s.Date, &s.Successful, &s.Failed, &s.MaterialsAdded, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.UpdatedAt = s.UpdatedAt.UTC()
		return &s, nil
	})
}

func (q *pgQuerier) DeleteCompleted(ctx context.Context, before time.Time) (int, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM repetition_schedule rs
		USING study_materials m
		WHERE rs.material_id = m.id
			AND NOT m.is_active
			AND rs.is_completed
			AND rs.completed_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

var (
	_ Store   = (*PostgresStore)(nil)
	_ Querier = (*pgQuerier)(nil)
)
