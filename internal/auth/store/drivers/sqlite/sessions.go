package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/dottirhealth/dottir/internal/auth/domain"
	"github.com/dottirhealth/dottir/internal/auth/store"
)

type sessionsRepo struct {
	db dbtx
}

// requireRow maps a zero-row update/delete to ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

const sessionColumns = `id, identity_id, token_hash, created_at, last_activity_at, absolute_expires_at, device_info, ip_address`

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, identity_id, token_hash, created_at, last_activity_at, absolute_expires_at, device_info, ip_address)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		s.IdentityID,
		s.TokenHash,
		toMillis(s.CreatedAt),
		toMillis(s.LastActivityAt),
		toMillisPtr(s.AbsoluteExpiresAt),
		s.DeviceInfo,
		s.IPAddress,
	)
	return mapConstraint(err)
}

func (r *sessionsRepo) GetSessionByTokenHash(ctx context.Context, tokenHash string) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token_hash = ?`, tokenHash)
	return scanSessionRow(row)
}

func scanSessionRow(row *sql.Row) (domain.Session, error) {
	var (
		s              domain.Session
		createdAt      int64
		lastActivityAt int64
		absoluteExp    sql.NullInt64
	)
	err := row.Scan(
		&s.ID,
		&s.IdentityID,
		&s.TokenHash,
		&createdAt,
		&lastActivityAt,
		&absoluteExp,
		&s.DeviceInfo,
		&s.IPAddress,
	)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	s.CreatedAt = fromMillis(createdAt)
	s.LastActivityAt = fromMillis(lastActivityAt)
	s.AbsoluteExpiresAt = fromMillisPtr(absoluteExp)
	return s, nil
}

// TouchSession slides the inactivity window with a single conditional UPDATE.
// The guard rejects sessions already past either lifetime, so a touch racing
// with expiry can never bring a dead session back.
func (r *sessionsRepo) TouchSession(ctx context.Context, tokenHash string, now, inactivityCutoff time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity_at = ?
		WHERE token_hash = ?
		  AND last_activity_at > ?
		  AND (absolute_expires_at IS NULL OR absolute_expires_at > ?)`,
		toMillis(now),
		tokenHash,
		toMillis(inactivityCutoff),
		toMillis(now),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *sessionsRepo) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE token_hash = ?`, tokenHash)
	return err
}

func (r *sessionsRepo) DeleteSessionByID(ctx context.Context, identityID, sessionID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = ? AND identity_id = ?`, sessionID, identityID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *sessionsRepo) DeleteIdentitySessions(ctx context.Context, identityID string, exceptTokenHash string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE identity_id = ? AND token_hash != ?`,
		identityID, exceptTokenHash)
	return err
}

func (r *sessionsRepo) ListIdentitySessions(ctx context.Context, identityID string, now, inactivityCutoff time.Time) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE identity_id = ?
		  AND last_activity_at > ?
		  AND (absolute_expires_at IS NULL OR absolute_expires_at > ?)
		ORDER BY last_activity_at DESC`,
		identityID, toMillis(inactivityCutoff), toMillis(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var (
			s              domain.Session
			createdAt      int64
			lastActivityAt int64
			absoluteExp    sql.NullInt64
		)
		if err := rows.Scan(
			&s.ID,
			&s.IdentityID,
			&s.TokenHash,
			&createdAt,
			&lastActivityAt,
			&absoluteExp,
			&s.DeviceInfo,
			&s.IPAddress,
		); err != nil {
			return nil, err
		}
		s.CreatedAt = fromMillis(createdAt)
		s.LastActivityAt = fromMillis(lastActivityAt)
		s.AbsoluteExpiresAt = fromMillisPtr(absoluteExp)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *sessionsRepo) DeleteExpiredSessions(ctx context.Context, now, inactivityCutoff time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE last_activity_at <= ?
		   OR (absolute_expires_at IS NOT NULL AND absolute_expires_at <= ?)`,
		toMillis(inactivityCutoff), toMillis(now))
	return err
}
