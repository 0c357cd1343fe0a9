package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"chatarra.io/internal/auth"
)

// FindTenantByName returns the single live company named name. Two rows are
// fetched so duplicates surface as auth.ErrAmbiguous.
func (s *Store) FindTenantByName(ctx context.Context, name string) (auth.Tenant, error) {
	if s.db == nil {
		return auth.Tenant{}, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, name
		from companies
		where name = $1 and deleted_at is null
		limit 2
	`, name)
	if err != nil {
		return auth.Tenant{}, err
	}
	defer rows.Close()

	var found []auth.Tenant
	for rows.Next() {
		var t auth.Tenant
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return auth.Tenant{}, err
		}
		found = append(found, t)
	}
	if err := rows.Err(); err != nil {
		return auth.Tenant{}, err
	}
	switch len(found) {
	case 0:
		return auth.Tenant{}, auth.ErrNotFound
	case 1:
		return found[0], nil
	default:
		return auth.Tenant{}, auth.ErrAmbiguous
	}
}

// FindCredential returns the first live user with username inside tenantID.
func (s *Store) FindCredential(ctx context.Context, tenantID uuid.UUID, username string) (auth.Credential, error) {
	if s.db == nil {
		return auth.Credential{}, errNoDB
	}
	var (
		c    auth.Credential
		lang uuid.NullUUID
	)
	err := s.db.QueryRowContext(ctx, `
		select id, company_id, username, password_hash, first_name, last_name, language_id
		from users
		where company_id = $1 and username = $2 and deleted_at is null
		order by id
		limit 1
	`, tenantID, username).Scan(&c.UserID, &c.TenantID, &c.Username, &c.PasswordHash, &c.FirstName, &c.LastName, &lang)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Credential{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Credential{}, err
	}
	c.LanguageID = nullable(lang)
	return c, nil
}

// LoadTenantProfile loads the company with its country language.
func (s *Store) LoadTenantProfile(ctx context.Context, tenantID uuid.UUID) (auth.TenantProfile, error) {
	if s.db == nil {
		return auth.TenantProfile{}, errNoDB
	}
	var (
		p                 auth.TenantProfile
		lang, countryLang uuid.NullUUID
	)
	err := s.db.QueryRowContext(ctx, `
		select c.id, c.name, c.language_id, co.language_id
		from companies c
		left join countries co on co.id = c.country_id and co.deleted_at is null
		where c.id = $1 and c.deleted_at is null
	`, tenantID).Scan(&p.TenantID, &p.Name, &lang, &countryLang)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.TenantProfile{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.TenantProfile{}, err
	}
	p.LanguageID = nullable(lang)
	p.CountryLanguageID = nullable(countryLang)
	return p, nil
}

func nullable(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}
