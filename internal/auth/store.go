package auth

import (
	"context"

	"acesso.org/internal/acl"
)

// Store describes the persistence operations required by the identity
// core. Every lookup excludes soft-deleted records, and backend errors
// surface as the typed sentinels from errors.go, never as panics.
type Store interface {
	Users(ctx context.Context) UserStore
	People(ctx context.Context) PersonStore
	Companies(ctx context.Context) CompanyStore
	Projects(ctx context.Context) ProjectStore
	ACLs(ctx context.Context) ACLStore
}

// UserStore manages identity records.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// FindByTaxID returns every user bound to the person or company
	// holding the given normalized tax ID. Multiple accounts may share
	// one identity record, so the result is a slice.
	FindByTaxID(ctx context.Context, taxID string) ([]*User, error)
	FindByUsername(ctx context.Context, username string) ([]*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	// AddAuthorization appends the authorization if and only if no
	// entry for its project exists yet. The check and the write are a
	// single atomic operation so that concurrent grants for the same
	// (user, project) pair cannot produce duplicates. An existing
	// entry is left untouched and the call succeeds as a no-op.
	AddAuthorization(ctx context.Context, userID string, authz ProjectAuthorization) error
	SoftDelete(ctx context.Context, id string) error
}

// PersonStore manages person identity-verification records.
type PersonStore interface {
	Create(ctx context.Context, p *PersonInfo) error
	Find(ctx context.Context, id string) (*PersonInfo, error)
	FindByTaxID(ctx context.Context, taxID string) (*PersonInfo, error)
	// CountByUsernamePrefix reports how many live records already use a
	// username starting with prefix; the next derived username appends
	// this count.
	CountByUsernamePrefix(ctx context.Context, prefix string) (int, error)
	SoftDelete(ctx context.Context, id string) error
}

// CompanyStore manages company identity-verification records.
type CompanyStore interface {
	Create(ctx context.Context, c *CompanyInfo) error
	Find(ctx context.Context, id string) (*CompanyInfo, error)
	FindByTaxID(ctx context.Context, taxID string) (*CompanyInfo, error)
	CountByUsernamePrefix(ctx context.Context, prefix string) (int, error)
	SoftDelete(ctx context.Context, id string) error
}

// ProjectStore resolves client projects.
type ProjectStore interface {
	Create(ctx context.Context, p *Project) error
	Find(ctx context.Context, id string) (*Project, error)
}

// ACLStore resolves ACL documents. The identity core consumes ACLs; it
// never owns their CRUD lifecycle.
type ACLStore interface {
	Create(ctx context.Context, a *acl.ACL) error
	Find(ctx context.Context, id string) (*acl.ACL, error)
}
