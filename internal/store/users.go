package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/pkg/model"
)

// UpsertUser inserts or refreshes a user keyed by LinuxDo ID. Called on
// every successful OAuth login, so it also bumps last_login_at. The banned
// flag is never touched here — bans survive logins.
func (s *HybridStore) UpsertUser(ctx context.Context, u model.User) (*model.User, error) {
	if s.PG == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}

	const q = `
		INSERT INTO gateway.users (
			linuxdo_id, username, name, trust_level, banned, created_at, last_login_at
		)
		VALUES ($1, $2, $3, $4, false, NOW(), NOW())
		ON CONFLICT (linuxdo_id)
		DO UPDATE SET
			username = EXCLUDED.username,
			name = EXCLUDED.name,
			trust_level = EXCLUDED.trust_level,
			last_login_at = NOW()
		RETURNING id, linuxdo_id, username, name, trust_level, banned, created_at, last_login_at;
	`

	row := s.PG.QueryRow(ctx, q, u.LinuxDoID, u.Username, u.Name, u.TrustLevel)

	var stored model.User
	if err := row.Scan(&stored.ID, &stored.LinuxDoID, &stored.Username, &stored.Name,
		&stored.TrustLevel, &stored.Banned, &stored.CreatedAt, &stored.LastLoginAt); err != nil {
		s.logger.Error("store.pg.upsert_user_failed",
			zap.Int64("linuxdo_id", u.LinuxDoID),
			zap.Error(err))
		return nil, err
	}
	return &stored, nil
}

func (s *HybridStore) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

func (s *HybridStore) GetUserByLinuxDoID(ctx context.Context, linuxDoID int64) (*model.User, error) {
	return s.getUser(ctx, `WHERE linuxdo_id = $1`, linuxDoID)
}

func (s *HybridStore) getUser(ctx context.Context, where string, arg any) (*model.User, error) {
	if s.PG == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}

	q := `
		SELECT id, linuxdo_id, username, name, trust_level, banned, created_at, last_login_at
		FROM gateway.users ` + where + ` LIMIT 1;`

	var u model.User
	err := s.PG.QueryRow(ctx, q, arg).Scan(&u.ID, &u.LinuxDoID, &u.Username, &u.Name,
		&u.TrustLevel, &u.Banned, &u.CreatedAt, &u.LastLoginAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *HybridStore) ListUsers(ctx context.Context) ([]model.User, error) {
	if s.PG == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}

	rows, err := s.PG.Query(ctx, `
		SELECT id, linuxdo_id, username, name, trust_level, banned, created_at, last_login_at
		FROM gateway.users
		ORDER BY created_at DESC;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.LinuxDoID, &u.Username, &u.Name,
			&u.TrustLevel, &u.Banned, &u.CreatedAt, &u.LastLoginAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *HybridStore) SetUserBanned(ctx context.Context, id int64, banned bool) error {
	if s.PG == nil {
		return fmt.Errorf("postgres unavailable")
	}

	tag, err := s.PG.Exec(ctx, `UPDATE gateway.users SET banned = $2 WHERE id = $1;`, id, banned)
	if err != nil {
		s.logger.Error("store.pg.set_banned_failed",
			zap.Int64("user_id", id),
			zap.Bool("banned", banned),
			zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %d not found", id)
	}
	return nil
}
