package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLStore persists sessions and revocations in the SQLite database
// opened by internal/database. It implements Store.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an opened, migrated database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// SaveSession upserts a session row keyed by its token hash.
func (s *SQLStore) SaveSession(ctx context.Context, rec StoredSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token_hash, id, user_id, role, fingerprint, address,
			auth_state, level, risk, created_at, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token_hash) DO UPDATE SET
			auth_state = excluded.auth_state,
			level = excluded.level,
			risk = excluded.risk,
			last_activity = excluded.last_activity`,
		rec.TokenHash, rec.ID, rec.UserID, rec.Role, rec.Fingerprint, rec.Address,
		rec.AuthState, rec.Level, rec.Risk, rec.CreatedAt, rec.LastActivity)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// DeleteSession removes a session row. Deleting an absent row is not an
// error.
func (s *SQLStore) DeleteSession(ctx context.Context, tokenHash string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// LoadSessions returns every persisted session. Expiry filtering is the
// Manager's job.
func (s *SQLStore) LoadSessions(ctx context.Context) ([]StoredSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token_hash, id, user_id, role, fingerprint, address,
			auth_state, level, risk, created_at, last_activity
		FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()

	var recs []StoredSession
	for rows.Next() {
		var rec StoredSession
		if err := rows.Scan(&rec.TokenHash, &rec.ID, &rec.UserID, &rec.Role,
			&rec.Fingerprint, &rec.Address, &rec.AuthState, &rec.Level,
			&rec.Risk, &rec.CreatedAt, &rec.LastActivity); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return recs, nil
}

// SaveSalt stores the token-hashing salt. The salt is not a secret, it
// only defeats precomputed digest lookups; without it persisted sessions
// and revocations could never match a presented token after a restart.
func (s *SQLStore) SaveSalt(ctx context.Context, salt []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_meta (key, value) VALUES ('token_salt', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, salt)
	if err != nil {
		return fmt.Errorf("save salt: %w", err)
	}
	return nil
}

// LoadSalt returns the persisted salt, nil when none has been stored yet.
func (s *SQLStore) LoadSalt(ctx context.Context) ([]byte, error) {
	var salt []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM security_meta WHERE key = 'token_salt'`).Scan(&salt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load salt: %w", err)
	}
	return salt, nil
}

// SaveRevocation upserts a token revocation and prunes expired entries
// while it is there.
func (s *SQLStore) SaveRevocation(ctx context.Context, tokenHash string, until time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revocations (token_hash, until) VALUES (?, ?)
		ON CONFLICT(token_hash) DO UPDATE SET until = excluded.until`,
		tokenHash, until)
	if err != nil {
		return fmt.Errorf("save revocation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM revocations WHERE until < ?`, time.Now())
	if err != nil {
		return fmt.Errorf("prune revocations: %w", err)
	}
	return nil
}

// LoadRevocations returns all revocations still in force.
func (s *SQLStore) LoadRevocations(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token_hash, until FROM revocations WHERE until >= ?`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("load revocations: %w", err)
	}
	defer rows.Close()

	revs := make(map[string]time.Time)
	for rows.Next() {
		var hash string
		var until time.Time
		if err := rows.Scan(&hash, &until); err != nil {
			return nil, fmt.Errorf("scan revocation: %w", err)
		}
		revs[hash] = until
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revocations: %w", err)
	}
	return revs, nil
}
