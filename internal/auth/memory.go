package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"acesso.org/internal/acl"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety. It
// backs the test suites and the smoke tool; production deployments use
// the PostgreSQL store.
type InMemory struct {
	mu        sync.RWMutex
	users     map[string]*User
	people    map[string]*PersonInfo
	companies map[string]*CompanyInfo
	projects  map[string]*Project
	acls      map[string]*acl.ACL
	now       func() time.Time
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		users:     make(map[string]*User),
		people:    make(map[string]*PersonInfo),
		companies: make(map[string]*CompanyInfo),
		projects:  make(map[string]*Project),
		acls:      make(map[string]*acl.ACL),
		now:       time.Now,
	}
}

func (s *InMemory) Users(context.Context) UserStore        { return memUsers{s} }
func (s *InMemory) People(context.Context) PersonStore     { return memPeople{s} }
func (s *InMemory) Companies(context.Context) CompanyStore { return memCompanies{s} }
func (s *InMemory) Projects(context.Context) ProjectStore  { return memProjects{s} }
func (s *InMemory) ACLs(context.Context) ACLStore          { return memACLs{s} }

// Users ---------------------------------------------------------------

type memUsers struct{ s *InMemory }

func (m memUsers) Create(_ context.Context, u *User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	now := m.s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	if u.Authorizations == nil {
		u.Authorizations = make(map[string]ProjectAuthorization)
	}
	m.s.users[u.ID] = cloneUser(u)
	return nil
}

func (m memUsers) Find(_ context.Context, id string) (*User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	u, ok := m.s.users[id]
	if !ok || u.Deleted() {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, u := range m.s.users {
		if !u.Deleted() && u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m memUsers) FindByTaxID(_ context.Context, taxID string) ([]*User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	var personIDs, companyIDs []string
	for _, p := range m.s.people {
		if p.DeletedAt == nil && p.TaxID == taxID {
			personIDs = append(personIDs, p.ID)
		}
	}
	for _, c := range m.s.companies {
		if c.DeletedAt == nil && c.TaxID == taxID {
			companyIDs = append(companyIDs, c.ID)
		}
	}
	var out []*User
	for _, u := range m.s.users {
		if u.Deleted() {
			continue
		}
		if containsString(personIDs, u.PersonID) || containsString(companyIDs, u.CompanyID) {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

func (m memUsers) FindByUsername(_ context.Context, username string) ([]*User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	var personIDs, companyIDs []string
	for _, p := range m.s.people {
		if p.DeletedAt == nil && p.Username == username {
			personIDs = append(personIDs, p.ID)
		}
	}
	for _, c := range m.s.companies {
		if c.DeletedAt == nil && c.Username == username {
			companyIDs = append(companyIDs, c.ID)
		}
	}
	var out []*User
	for _, u := range m.s.users {
		if u.Deleted() {
			continue
		}
		if containsString(personIDs, u.PersonID) || containsString(companyIDs, u.CompanyID) {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

func (m memUsers) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[userID]
	if !ok || u.Deleted() {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = m.s.now().UTC()
	return nil
}

func (m memUsers) AddAuthorization(_ context.Context, userID string, authz ProjectAuthorization) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[userID]
	if !ok || u.Deleted() {
		return ErrNotFound
	}
	// Grant is a no-op on an existing entry; the check and write
	// happen under one lock, matching the conditional update the
	// PostgreSQL store performs.
	if u.Grant(authz) {
		u.UpdatedAt = m.s.now().UTC()
	}
	return nil
}

func (m memUsers) SoftDelete(_ context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok || u.Deleted() {
		return ErrNotFound
	}
	now := m.s.now().UTC()
	u.DeletedAt = &now
	return nil
}

// People --------------------------------------------------------------

type memPeople struct{ s *InMemory }

func (m memPeople) Create(_ context.Context, p *PersonInfo) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	now := m.s.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	m.s.people[p.ID] = &cp
	return nil
}

func (m memPeople) Find(_ context.Context, id string) (*PersonInfo, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	p, ok := m.s.people[id]
	if !ok || p.DeletedAt != nil {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m memPeople) FindByTaxID(_ context.Context, taxID string) (*PersonInfo, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, p := range m.s.people {
		if p.DeletedAt == nil && p.TaxID == taxID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m memPeople) CountByUsernamePrefix(_ context.Context, prefix string) (int, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	n := 0
	for _, p := range m.s.people {
		if p.DeletedAt == nil && strings.HasPrefix(p.Username, prefix) {
			n++
		}
	}
	return n, nil
}

func (m memPeople) SoftDelete(_ context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.people[id]
	if !ok || p.DeletedAt != nil {
		return ErrNotFound
	}
	now := m.s.now().UTC()
	p.DeletedAt = &now
	return nil
}

// Companies -----------------------------------------------------------

type memCompanies struct{ s *InMemory }

func (m memCompanies) Create(_ context.Context, c *CompanyInfo) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	now := m.s.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	m.s.companies[c.ID] = &cp
	return nil
}

func (m memCompanies) Find(_ context.Context, id string) (*CompanyInfo, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	c, ok := m.s.companies[id]
	if !ok || c.DeletedAt != nil {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m memCompanies) FindByTaxID(_ context.Context, taxID string) (*CompanyInfo, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, c := range m.s.companies {
		if c.DeletedAt == nil && c.TaxID == taxID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m memCompanies) CountByUsernamePrefix(_ context.Context, prefix string) (int, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	n := 0
	for _, c := range m.s.companies {
		if c.DeletedAt == nil && strings.HasPrefix(c.Username, prefix) {
			n++
		}
	}
	return n, nil
}

func (m memCompanies) SoftDelete(_ context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.companies[id]
	if !ok || c.DeletedAt != nil {
		return ErrNotFound
	}
	now := m.s.now().UTC()
	c.DeletedAt = &now
	return nil
}

// Projects ------------------------------------------------------------

type memProjects struct{ s *InMemory }

func (m memProjects) Create(_ context.Context, p *Project) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	now := m.s.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	m.s.projects[p.ID] = &cp
	return nil
}

func (m memProjects) Find(_ context.Context, id string) (*Project, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	p, ok := m.s.projects[id]
	if !ok || p.DeletedAt != nil {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// ACLs ----------------------------------------------------------------

type memACLs struct{ s *InMemory }

func (m memACLs) Create(_ context.Context, a *acl.ACL) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	now := m.s.now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	cp.Permissions = append([]acl.Permission(nil), a.Permissions...)
	m.s.acls[a.ID] = &cp
	return nil
}

func (m memACLs) Find(_ context.Context, id string) (*acl.ACL, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	a, ok := m.s.acls[id]
	if !ok || a.DeletedAt != nil {
		return nil, ErrNotFound
	}
	cp := *a
	cp.Permissions = append([]acl.Permission(nil), a.Permissions...)
	return &cp, nil
}

// Helpers -------------------------------------------------------------

func cloneUser(u *User) *User {
	cp := *u
	cp.Authorizations = make(map[string]ProjectAuthorization, len(u.Authorizations))
	for k, v := range u.Authorizations {
		cp.Authorizations[k] = v
	}
	return &cp
}

func containsString(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
