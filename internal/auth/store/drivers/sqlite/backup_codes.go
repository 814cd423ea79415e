package sqlite

import (
	"context"
	"time"
)

type backupCodesRepo struct {
	db dbtx
}

func (r *backupCodesRepo) CreateBackupCode(ctx context.Context, identityID string, codeHash string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO backup_codes (identity_id, code_hash, created_at)
		VALUES (?, ?, ?)`,
		identityID, codeHash, toMillis(time.Now()))
	return mapConstraint(err)
}

// ConsumeBackupCode deletes the row for the code if it exists. The DELETE is
// a single statement, so two concurrent consumers of the same code see
// exactly one row affected between them.
func (r *backupCodesRepo) ConsumeBackupCode(ctx context.Context, identityID string, codeHash string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE identity_id = ? AND code_hash = ?`,
		identityID, codeHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *backupCodesRepo) DeleteAllBackupCodes(ctx context.Context, identityID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE identity_id = ?`, identityID)
	return err
}

func (r *backupCodesRepo) CountBackupCodes(ctx context.Context, identityID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM backup_codes WHERE identity_id = ?`, identityID).Scan(&n)
	return n, err
}
