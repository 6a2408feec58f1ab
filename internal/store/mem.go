// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of the [Store] interface. It is
// used for local runs and tests.
type MemStore struct {
	mu   sync.Mutex
	data *memData
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{data: newMemData()}
}

type statsKey struct {
	userID int64
	date   time.Time
}

type memData struct {
	users     map[int64]*User
	materials map[int64]*Material
	reps      map[int64]*Repetition
	results   map[int64]*Result
	stats     map[statsKey]*DailyStats
	lastID    int64
}

func newMemData() *memData {
	return &memData{
		users:     make(map[int64]*User),
		materials: make(map[int64]*Material),
		reps:      make(map[int64]*Repetition),
		results:   make(map[int64]*Result),
		stats:     make(map[statsKey]*DailyStats),
	}
}

func (d *memData) clone() *memData {
	c := &memData{
		users:     make(map[int64]*User, len(d.users)),
		materials: make(map[int64]*Material, len(d.materials)),
		reps:      make(map[int64]*Repetition, len(d.reps)),
		results:   maps.Clone(d.results),
		stats:     make(map[statsKey]*DailyStats, len(d.stats)),
		lastID:    d.lastID,
	}
	for id, u := range d.users {
		c.users[id] = ptr(*u)
	}
	for id, m := range d.materials {
		c.materials[id] = copyMaterial(m)
	}
	for id, r := range d.reps {
		c.reps[id] = copyRepetition(r)
	}
	for k, s := range d.stats {
		c.stats[k] = ptr(*s)
	}
	return c
}

func ptr[T any](v T) *T { return &v }

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return ptr(t.UTC())
}

func copyMaterial(m *Material) *Material {
	c := *m
	c.LastSuccessAt = copyTime(m.LastSuccessAt)
	return &c
}

func copyRepetition(r *Repetition) *Repetition {
	c := *r
	c.CompletedAt = copyTime(r.CompletedAt)
	c.RemindedAt = copyTime(r.RemindedAt)
	return &c
}

func (d *memData) nextID() int64 {
	d.lastID++
	return d.lastID
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func (d *memData) CreateUser(_ context.Context, u *User) error {
	if _, exists := d.users[u.ID]; exists {
		return fmt.Errorf("user %d: %w", u.ID, ErrAlreadyExists)
	}
	u.CreatedAt = createdAt(u.CreatedAt)
	d.users[u.ID] = ptr(*u)
	return nil
}

func (d *memData) GetUser(_ context.Context, id int64) (*User, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return ptr(*u), nil
}

func (d *memData) UpdateUser(_ context.Context, u *User) error {
	old, ok := d.users[u.ID]
	if !ok {
		return fmt.Errorf("user %d: %w", u.ID, ErrNotFound)
	}
	c := *u
	c.CreatedAt = old.CreatedAt
	d.users[u.ID] = &c
	return nil
}

func (d *memData) ListUsers(_ context.Context, activeOnly bool) ([]*User, error) {
	var users []*User
	for _, u := range d.users {
		if activeOnly && !u.IsActive {
			continue
		}
		users = append(users, ptr(*u))
	}
	slices.SortFunc(users, func(a, b *User) int { return cmp.Compare(a.ID, b.ID) })
	return users, nil
}

func (d *memData) CreateMaterial(_ context.Context, m *Material) error {
	if _, ok := d.users[m.UserID]; !ok {
		return fmt.Errorf("user %d: %w", m.UserID, ErrNotFound)
	}
	m.ID = d.nextID()
	m.CreatedAt = createdAt(m.CreatedAt)
	d.materials[m.ID] = copyMaterial(m)
	return nil
}

func (d *memData) GetMaterial(_ context.Context, id int64) (*Material, error) {
	m, ok := d.materials[id]
	if !ok {
		return nil, fmt.Errorf("material %d: %w", id, ErrNotFound)
	}
	return copyMaterial(m), nil
}

func (d *memData) UpdateMaterial(_ context.Context, m *Material) error {
	old, ok := d.materials[m.ID]
	if !ok {
		return fmt.Errorf("material %d: %w", m.ID, ErrNotFound)
	}
	c := copyMaterial(m)
	c.UserID = old.UserID
	c.CreatedAt = old.CreatedAt
	d.materials[m.ID] = c
	return nil
}

func (d *memData) matchMaterial(m *Material, userID int64, activeOnly bool, query string) bool {
	if userID != 0 && m.UserID != userID {
		return false
	}
	if activeOnly && !m.IsActive {
		return false
	}
	if query != "" && !strings.Contains(strings.ToLower(m.Content), strings.ToLower(query)) {
		return false
	}
	return true
}

func (d *memData) ListMaterials(_ context.Context, f MaterialFilter) ([]*Material, error) {
	var ms []*Material
	for _, m := range d.materials {
		if d.matchMaterial(m, f.UserID, f.ActiveOnly, f.Query) {
			ms = append(ms, copyMaterial(m))
		}
	}
	slices.SortFunc(ms, func(a, b *Material) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	if f.Limit > 0 && len(ms) > f.Limit {
		ms = ms[:f.Limit]
	}
	return ms, nil
}

func (d *memData) CountMaterials(_ context.Context, userID int64, activeOnly bool) (int, error) {
	var n int
	for _, m := range d.materials {
		if d.matchMaterial(m, userID, activeOnly, "") {
			n++
		}
	}
	return n, nil
}

func (d *memData) CreateRepetition(_ context.Context, r *Repetition) error {
	if _, ok := d.materials[r.MaterialID]; !ok {
		return fmt.Errorf("material %d: %w", r.MaterialID, ErrNotFound)
	}
	r.ID = d.nextID()
	r.CreatedAt = createdAt(r.CreatedAt)
	r.ScheduledAt = r.ScheduledAt.UTC()
	d.reps[r.ID] = copyRepetition(r)
	return nil
}

func (d *memData) GetRepetition(_ context.Context, id int64) (*Repetition, error) {
	r, ok := d.reps[id]
	if !ok {
		return nil, fmt.Errorf("repetition %d: %w", id, ErrNotFound)
	}
	return copyRepetition(r), nil
}

func (d *memData) UpdateRepetition(_ context.Context, r *Repetition) error {
	old, ok := d.reps[r.ID]
	if !ok {
		return fmt.Errorf("repetition %d: %w", r.ID, ErrNotFound)
	}
	c := copyRepetition(r)
	c.MaterialID = old.MaterialID
	c.UserID = old.UserID
	c.CreatedAt = old.CreatedAt
	c.ScheduledAt = c.ScheduledAt.UTC()
	d.reps[r.ID] = c
	return nil
}

func (d *memData) DeletePendingRepetitions(_ context.Context, userID, materialID int64) (int, error) {
	var n int
	for id, r := range d.reps {
		if r.UserID == userID && r.MaterialID == materialID && !r.Completed {
			delete(d.reps, id)
			n++
		}
	}
	return n, nil
}

func (f RepetitionFilter) match(r *Repetition) bool {
	switch {
	case f.UserID != 0 && r.UserID != f.UserID:
		return false
	case f.MaterialID != 0 && r.MaterialID != f.MaterialID:
		return false
	case f.PendingOnly && r.Completed:
		return false
	case len(f.Kinds) > 0 && !slices.Contains(f.Kinds, r.Kind):
		return false
	case !f.DateFrom.IsZero() && r.ScheduledDate.Before(f.DateFrom):
		return false
	case !f.DateTo.IsZero() && r.ScheduledDate.After(f.DateTo):
		return false
	case !f.DueBy.IsZero() && r.ScheduledAt.After(f.DueBy):
		return false
	case f.Unreminded && r.RemindedAt != nil:
		return false
	}
	return true
}

func compareRepetitions(a, b *Repetition) int {
	return cmp.Or(
		a.ScheduledDate.Compare(b.ScheduledDate),
		cmp.Compare(a.Stage, b.Stage),
		a.CreatedAt.Compare(b.CreatedAt),
		cmp.Compare(a.ID, b.ID),
	)
}

func (d *memData) ListRepetitions(_ context.Context, f RepetitionFilter) ([]*Repetition, error) {
	var rs []*Repetition
	for _, r := range d.reps {
		if f.match(r) {
			rs = append(rs, copyRepetition(r))
		}
	}
	slices.SortFunc(rs, compareRepetitions)
	return rs, nil
}

func (d *memData) CreateResult(_ context.Context, r *Result) error {
	if _, ok := d.reps[r.ScheduleID]; !ok {
		return fmt.Errorf("repetition %d: %w", r.ScheduleID, ErrNotFound)
	}
	r.ID = d.nextID()
	r.CompletedAt = createdAt(r.CompletedAt)
	d.results[r.ID] = ptr(*r)
	return nil
}

func (d *memData) ListResults(_ context.Context, materialID int64) ([]*Result, error) {
	var rs []*Result
	for _, r := range d.results {
		if r.MaterialID == materialID {
			rs = append(rs, ptr(*r))
		}
	}
	slices.SortFunc(rs, func(a, b *Result) int {
		return cmp.Or(a.CompletedAt.Compare(b.CompletedAt), cmp.Compare(a.ID, b.ID))
	})
	return rs, nil
}

func (d *memData) AddDailyStats(_ context.Context, userID int64, date time.Time, delta StatsDelta) error {
	k := statsKey{userID: userID, date: date.UTC()}
	s, ok := d.stats[k]
	if !ok {
		s = &DailyStats{UserID: userID, Date: k.date}
		d.stats[k] = s
	}
	s.Successful += delta.Successful
	s.Failed += delta.Failed
	s.MaterialsAdded += delta.MaterialsAdded
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (d *memData) ListDailyStats(_ context.Context, userID int64) ([]*DailyStats, error) {
	var ss []*DailyStats
	for k, s := range d.stats {
		if k.userID == userID {
			ss = append(ss, ptr(*s))
		}
	}
	slices.SortFunc(ss, func(a, b *DailyStats) int { return a.Date.Compare(b.Date) })
	return ss, nil
}

func (d *memData) DeleteCompleted(_ context.Context, before time.Time) (int, error) {
	var n int
	for id, r := range d.reps {
		if !r.Completed || r.CompletedAt == nil || !r.CompletedAt.Before(before) {
			continue
		}
		if m, ok := d.materials[r.MaterialID]; ok && m.IsActive {
			continue
		}
		delete(d.reps, id)
		for rid, res := range d.results {
			if res.ScheduleID == id {
				delete(d.results, rid)
			}
		}
		n++
	}
	return n, nil
}

// The methods below guard memData with the mutex.

func (s *MemStore) CreateUser(ctx context.Context, u *User) error {
	return lockedErr(s, func(d *memData) error { return d.CreateUser(ctx, u) })
}

func (s *MemStore) GetUser(ctx context.Context, id int64) (*User, error) {
	return locked(s, func(d *memData) (*User, error) { return d.GetUser(ctx, id) })
}

func (s *MemStore) UpdateUser(ctx context.Context, u *User) error {
	return lockedErr(s, func(d *memData) error { return d.UpdateUser(ctx, u) })
}

func (s *MemStore) ListUsers(ctx context.Context, activeOnly bool) ([]*User, error) {
	return locked(s, func(d *memData) ([]*User, error) { return d.ListUsers(ctx, activeOnly) })
}

func (s *MemStore) CreateMaterial(ctx context.Context, m *Material) error {
	return lockedErr(s, func(d *memData) error { return d.CreateMaterial(ctx, m) })
}

func (s *MemStore) GetMaterial(ctx context.Context, id int64) (*Material, error) {
	return locked(s, func(d *memData) (*Material, error) { return d.GetMaterial(ctx, id) })
}

func (s *MemStore) UpdateMaterial(ctx context.Context, m *Material) error {
	return lockedErr(s, func(d *memData) error { return d.UpdateMaterial(ctx, m) })
}

func (s *MemStore) ListMaterials(ctx context.Context, f MaterialFilter) ([]*Material, error) {
	return locked(s, func(d *memData) ([]*Material, error) { return d.ListMaterials(ctx, f) })
}

func (s *MemStore) CountMaterials(ctx context.Context, userID int64, activeOnly bool) (int, error) {
	return locked(s, func(d *memData) (int, error) { return d.CountMaterials(ctx, userID, activeOnly) })
}

func (s *MemStore) CreateRepetition(ctx context.Context, r *Repetition) error {
	return lockedErr(s, func(d *memData) error { return d.CreateRepetition(ctx, r) })
}

func (s *MemStore) GetRepetition(ctx context.Context, id int64) (*Repetition, error) {
	return locked(s, func(d *memData) (*Repetition, error) { return d.GetRepetition(ctx, id) })
}

func (s *MemStore) UpdateRepetition(ctx context.Context, r *Repetition) error {
	return lockedErr(s, func(d *memData) error { return d.UpdateRepetition(ctx, r) })
}

func (s *MemStore) DeletePendingRepetitions(ctx context.Context, userID, materialID int64) (int, error) {
	return locked(s, func(d *memData) (int, error) { return d.DeletePendingRepetitions(ctx, userID, materialID) })
}

func (s *MemStore) ListRepetitions(ctx context.Context, f RepetitionFilter) ([]*Repetition, error) {
	return locked(s, func(d *memData) ([]*Repetition, error) { return d.ListRepetitions(ctx, f) })
}

func (s *MemStore) CreateResult(ctx context.Context, r *Result) error {
	return lockedErr(s, func(d *memData) error { return d.CreateResult(ctx, r) })
}

func (s *MemStore) ListResults(ctx context.Context, materialID int64) ([]*Result, error) {
	return locked(s, func(d *memData) ([]*Result, error) { return d.ListResults(ctx, materialID) })
}

func (s *MemStore) AddDailyStats(ctx context.Context, userID int64, date time.Time, delta StatsDelta) error {
	return lockedErr(s, func(d *memData) error { return d.AddDailyStats(ctx, userID, date, delta) })
}

func (s *MemStore) ListDailyStats(ctx context.Context, userID int64) ([]*DailyStats, error) {
	return locked(s, func(d *memData) ([]*DailyStats, error) { return d.ListDailyStats(ctx, userID) })
}

func (s *MemStore) DeleteCompleted(ctx context.Context, before time.Time) (int, error) {
	return locked(s, func(d *memData) (int, error) { return d.DeleteCompleted(ctx, before) })
}

func locked[T any](s *MemStore, f func(*memData) (T, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return f(s.data)
}

func lockedErr(s *MemStore, f func(*memData) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return f(s.data)
}

// Tx runs f holding the store lock. If f fails, the data is restored to the
// state before the call.
func (s *MemStore) Tx(ctx context.Context, f func(Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.data.clone()
	err := f(s.data)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.data = snapshot
	}
	return err
}

// Ping always succeeds.
func (s *MemStore) Ping(context.Context) error { return nil }

// Close is a no-op for MemStore.
func (s *MemStore) Close() error { return nil }

var (
	_ Store   = (*MemStore)(nil)
	_ Querier = (*memData)(nil)
)
