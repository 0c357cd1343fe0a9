package pg

import (
	"context"

	"github.com/google/uuid"
)

// DirectPermissionKeys lists keys granted straight to a live user.
func (s *Store) DirectPermissionKeys(ctx context.Context, userID uuid.UUID) ([]string, error) {
	return s.keys(ctx, `
		select distinct p.key
		from user_permissions up
		join users u on u.id = up.user_id and u.deleted_at is null
		join permissions p on p.id = up.permission_id and p.deleted_at is null
		where up.user_id = $1 and up.deleted_at is null
	`, userID)
}

// UserGroupIDs lists the live groups a live user belongs to.
func (s *Store) UserGroupIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select ug.group_id
		from user_groups ug
		join users u on u.id = ug.user_id and u.deleted_at is null
		join groups g on g.id = ug.group_id and g.deleted_at is null
		where ug.user_id = $1 and ug.deleted_at is null
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GroupPermissionKeys lists keys granted to a live group.
func (s *Store) GroupPermissionKeys(ctx context.Context, groupID uuid.UUID) ([]string, error) {
	return s.keys(ctx, `
		select distinct p.key
		from group_permissions gp
		join groups g on g.id = gp.group_id and g.deleted_at is null
		join permissions p on p.id = gp.permission_id and p.deleted_at is null
		where gp.group_id = $1 and gp.deleted_at is null
	`, groupID)
}

func (s *Store) keys(ctx context.Context, query string, id uuid.UUID) ([]string, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}
