package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/jobs"
)

// GetProfile looks up a user's account record: notification address and
// subscription tier. The tier is always re-read at decision time, never
// cached, because it can change during any deferred interval.
func (s *Store) GetProfile(ctx context.Context, userID string) (*jobs.Profile, error) {
	query := `
		SELECT identity_id, COALESCE(name, '') AS name, email, role
		FROM profiles
		WHERE identity_id = $1
	`

	var profile jobs.Profile
	err := s.db.GetContext(ctx, &profile, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, jobs.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return &profile, nil
}

// UpdateRole changes a user's subscription tier
func (s *Store) UpdateRole(ctx context.Context, userID, role string) error {
	query := `UPDATE profiles SET role = $1 WHERE identity_id = $2`

	result, err := s.db.ExecContext(ctx, query, role, userID)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return jobs.ErrProfileNotFound
	}

	s.logger.Info("User role updated",
		slog.String("user_id", userID),
		slog.String("role", role),
	)

	return nil
}
