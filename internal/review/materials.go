// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package review

import (
	"context"
	"fmt"
	"strings"

	"go.astrophena.name/ebbinghaus/internal/store"
)

// searchLimit caps the results of SearchMaterials.
const searchLimit = 10

// AddMaterial saves a new material of a user without scheduling it. Use
// [Service.Study] to add a material with its initial reviews.
func (s *Service) AddMaterial(ctx context.Context, userID int64, content string) (*store.Material, error) {
	var m *store.Material
	err := s.store.Tx(ctx, func(q store.Querier) error {
		var err error
		m, err = s.addMaterial(ctx, q, userID, content)
		return err
	})
	return m, err
}

func (s *Service) addMaterial(ctx context.Context, q store.Querier, userID int64, content string) (*store.Material, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	loc, err := s.userLocation(ctx, q, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	m := &store.Material{
		UserID:    userID,
		Content:   content,
		CreatedAt: now.UTC(),
		IsActive:  true,
	}
	if err := q.CreateMaterial(ctx, m); err != nil {
		return nil, err
	}
	if err := q.AddDailyStats(ctx, userID, s.Today(loc), store.StatsDelta{MaterialsAdded: 1}); err != nil {
		return nil, err
	}
	return m, nil
}

// Material returns the material with the given ID.
func (s *Service) Material(ctx context.Context, id int64) (*store.Material, error) {
	return s.store.GetMaterial(ctx, id)
}

// Materials returns the materials of a user, newest first. Zero limit means
// no limit.
func (s *Service) Materials(ctx context.Context, userID int64, activeOnly bool, limit int) ([]*store.Material, error) {
	return s.store.ListMaterials(ctx, store.MaterialFilter{
		UserID:     userID,
		ActiveOnly: activeOnly,
		Limit:      limit,
	})
}

// DeactivateMaterial hides the material of a user and cancels its pending
// reviews.
func (s *Service) DeactivateMaterial(ctx context.Context, userID, id int64) error {
	return s.store.Tx(ctx, func(q store.Querier) error {
		m, err := q.GetMaterial(ctx, id)
		if err != nil {
			return err
		}
		if m.UserID != userID {
			return fmt.Errorf("material %d: %w", id, ErrNotFound)
		}
		m.IsActive = false
		if err := q.UpdateMaterial(ctx, m); err != nil {
			return err
		}
		_, err = q.DeletePendingRepetitions(ctx, userID, id)
		return err
	})
}

// SearchMaterials returns up to ten active materials of a user containing
// query, ignoring case.
func (s *Service) SearchMaterials(ctx context.Context, userID int64, query string) ([]*store.Material, error) {
	return s.store.ListMaterials(ctx, store.MaterialFilter{
		UserID:     userID,
		ActiveOnly: true,
		Query:      query,
		Limit:      searchLimit,
	})
}

// CountMaterials returns the number of active materials of a user.
func (s *Service) CountMaterials(ctx context.Context, userID int64) (int, error) {
	return s.store.CountMaterials(ctx, userID, true)
}
