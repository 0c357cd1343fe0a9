package pg

import (
	"context"
	"fmt"

	"chatarra.io/internal/audit"
)

// AppendAudit inserts rec in a single statement.
func (s *Store) AppendAudit(ctx context.Context, rec audit.Record) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_records (id, subject_id, username, action, http_method, path, data, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.SubjectID, rec.Username, rec.Action, rec.Method, rec.Path, string(rec.Data), rec.OccurredAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("audit record %s already exists: %w", rec.ID, err)
		}
		return err
	}
	return nil
}
