package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"acesso.org/internal/acl"
	"acesso.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Records are kept as jsonb
// documents keyed by id; soft deletion is tracked in a dedicated column
// so every read can filter tombstones without touching the document.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const schema = `
create table if not exists users (
	id         text primary key,
	doc        jsonb not null,
	created_at timestamptz not null,
	updated_at timestamptz not null,
	deleted_at timestamptz
);
create index if not exists users_email_idx on users ((doc->>'email')) where deleted_at is null;
create table if not exists people (
	id         text primary key,
	doc        jsonb not null,
	created_at timestamptz not null,
	updated_at timestamptz not null,
	deleted_at timestamptz
);
create index if not exists people_taxid_idx on people ((doc->>'taxId')) where deleted_at is null;
create table if not exists companies (
	id         text primary key,
	doc        jsonb not null,
	created_at timestamptz not null,
	updated_at timestamptz not null,
	deleted_at timestamptz
);
create index if not exists companies_taxid_idx on companies ((doc->>'taxId')) where deleted_at is null;
create table if not exists projects (
	id         text primary key,
	doc        jsonb not null,
	created_at timestamptz not null,
	updated_at timestamptz not null,
	deleted_at timestamptz
);
create table if not exists acls (
	id         text primary key,
	doc        jsonb not null,
	created_at timestamptz not null,
	updated_at timestamptz not null,
	deleted_at timestamptz
);
`

// EnsureSchema creates the document tables and indexes if absent.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PGStore) Users(context.Context) UserStore        { return &pgUsers{db: s.db} }
func (s *PGStore) People(context.Context) PersonStore     { return &pgPeople{db: s.db} }
func (s *PGStore) Companies(context.Context) CompanyStore { return &pgCompanies{db: s.db} }
func (s *PGStore) Projects(context.Context) ProjectStore  { return &pgProjects{db: s.db} }
func (s *PGStore) ACLs(context.Context) ACLStore          { return &pgACLs{db: s.db} }

// User store ---------------------------------------------------------------

type pgUsers struct{ db *sql.DB }

func (s *pgUsers) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	if u.Authorizations == nil {
		u.Authorizations = make(map[string]ProjectAuthorization)
	}
	doc, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into users(id, doc, created_at, updated_at) values($1,$2,$3,$4)`,
		u.ID, doc, u.CreatedAt, u.UpdatedAt,
	)
	return err
}

func (s *pgUsers) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select doc from users where id=$1 and deleted_at is null`, id))
}

func (s *pgUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select doc from users where doc->>'email'=$1 and deleted_at is null`, email))
}

func (s *pgUsers) FindByTaxID(ctx context.Context, taxID string) ([]*User, error) {
	return s.findByIdentityField(ctx, "taxId", taxID)
}

func (s *pgUsers) FindByUsername(ctx context.Context, username string) ([]*User, error) {
	return s.findByIdentityField(ctx, "username", username)
}

// findByIdentityField resolves users through the person or company
// record carrying the given field value. Several accounts can share one
// identity record, so the result is a list.
func (s *pgUsers) findByIdentityField(ctx context.Context, field, value string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select u.doc from users u
		  where u.deleted_at is null
		    and (u.doc->>'personId' in (select id from people where doc->>'`+field+`'=$1 and deleted_at is null)
		      or u.doc->>'companyId' in (select id from companies where doc->>'`+field+`'=$1 and deleted_at is null))
		  order by u.created_at`, value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var u User
		if err := json.Unmarshal(doc, &u); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (s *pgUsers) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set doc = jsonb_set(doc, '{password}', to_jsonb($2::text)), updated_at = now()
		  where id=$1 and deleted_at is null`,
		userID, passwordHash,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddAuthorization appends the grant in a single conditional update, so
// concurrent grants for the same project collapse to one writer and the
// losers see the no-op path. An existing entry is never overwritten.
func (s *pgUsers) AddAuthorization(ctx context.Context, userID string, authz ProjectAuthorization) error {
	entry, err := json.Marshal(authz)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`update users
		    set doc = jsonb_set(doc, '{authorizations}',
		        coalesce(doc->'authorizations','{}'::jsonb) || jsonb_build_object($2::text, $3::jsonb)),
		        updated_at = now()
		  where id=$1 and deleted_at is null
		    and not coalesce(doc->'authorizations','{}'::jsonb) ? $2`,
		userID, authz.ProjectID, entry,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	// Zero rows means either the grant already exists or the user is
	// gone; only the latter is an error.
	var one int
	err = s.db.QueryRowContext(ctx,
		`select 1 from users where id=$1 and deleted_at is null`, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}

func (s *pgUsers) SoftDelete(ctx context.Context, id string) error {
	return softDelete(ctx, s.db, "users", id)
}

func scanUser(row *sql.Row) (*User, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var u User
	if err := json.Unmarshal(doc, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Person store ---------------------------------------------------------------

type pgPeople struct{ db *sql.DB }

func (s *pgPeople) Create(ctx context.Context, p *PersonInfo) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into people(id, doc, created_at, updated_at) values($1,$2,$3,$4)`,
		p.ID, doc, now, now,
	)
	return err
}

func (s *pgPeople) Find(ctx context.Context, id string) (*PersonInfo, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select doc from people where id=$1 and deleted_at is null`, id))
}

func (s *pgPeople) FindByTaxID(ctx context.Context, taxID string) (*PersonInfo, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select doc from people where doc->>'taxId'=$1 and deleted_at is null`, taxID))
}

func (s *pgPeople) CountByUsernamePrefix(ctx context.Context, prefix string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from people where doc->>'username' like $1 || '%' and deleted_at is null`,
		prefix).Scan(&n)
	return n, err
}

func (s *pgPeople) SoftDelete(ctx context.Context, id string) error {
	return softDelete(ctx, s.db, "people", id)
}

func (s *pgPeople) scanOne(row *sql.Row) (*PersonInfo, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var p PersonInfo
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Company store ---------------------------------------------------------------

type pgCompanies struct{ db *sql.DB }

func (s *pgCompanies) Create(ctx context.Context, c *CompanyInfo) error {
	if c.ID == "" {
		c.ID = ids.New()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	doc, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into companies(id, doc, created_at, updated_at) values($1,$2,$3,$4)`,
		c.ID, doc, now, now,
	)
	return err
}

func (s *pgCompanies) Find(ctx context.Context, id string) (*CompanyInfo, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select doc from companies where id=$1 and deleted_at is null`, id))
}

func (s *pgCompanies) FindByTaxID(ctx context.Context, taxID string) (*CompanyInfo, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select doc from companies where doc->>'taxId'=$1 and deleted_at is null`, taxID))
}

func (s *pgCompanies) CountByUsernamePrefix(ctx context.Context, prefix string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from companies where doc->>'username' like $1 || '%' and deleted_at is null`,
		prefix).Scan(&n)
	return n, err
}

func (s *pgCompanies) SoftDelete(ctx context.Context, id string) error {
	return softDelete(ctx, s.db, "companies", id)
}

func (s *pgCompanies) scanOne(row *sql.Row) (*CompanyInfo, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var c CompanyInfo
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Project store -------------------------------------------------------------

type pgProjects struct{ db *sql.DB }

func (s *pgProjects) Create(ctx context.Context, p *Project) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into projects(id, doc, created_at, updated_at) values($1,$2,$3,$4)`,
		p.ID, doc, now, now,
	)
	return err
}

func (s *pgProjects) Find(ctx context.Context, id string) (*Project, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`select doc from projects where id=$1 and deleted_at is null`, id).Scan(&doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var p Project
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ACL store ------------------------------------------------------------------

type pgACLs struct{ db *sql.DB }

func (s *pgACLs) Create(ctx context.Context, a *acl.ACL) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	doc, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into acls(id, doc, created_at, updated_at) values($1,$2,$3,$4)`,
		a.ID, doc, now, now,
	)
	return err
}

func (s *pgACLs) Find(ctx context.Context, id string) (*acl.ACL, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`select doc from acls where id=$1 and deleted_at is null`, id).Scan(&doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var a acl.ACL
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func softDelete(ctx context.Context, db *sql.DB, table, id string) error {
	res, err := db.ExecContext(ctx,
		`update `+table+` set deleted_at = now() where id=$1 and deleted_at is null`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
