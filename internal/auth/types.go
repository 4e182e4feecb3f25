package auth

import "time"

// UserType distinguishes person-backed from company-backed accounts.
type UserType string

const (
	TypePerson  UserType = "person"
	TypeCompany UserType = "company"
)

// User is an identity record. Exactly one of PersonID/CompanyID is set,
// consistent with Type. Authorizations is keyed by project id so that a
// grant is naturally append-if-absent; the map holds at most one entry
// per project.
type User struct {
	ID             string                          `json:"id"`
	Email          string                          `json:"email"`
	PasswordHash   string                          `json:"password"`
	Type           UserType                        `json:"type"`
	PersonID       string                          `json:"personId,omitempty"`
	CompanyID      string                          `json:"companyId,omitempty"`
	Authorizations map[string]ProjectAuthorization `json:"authorizations"`
	CreatedAt      time.Time                       `json:"createdAt"`
	UpdatedAt      time.Time                       `json:"updatedAt"`
	DeletedAt      *time.Time                      `json:"deletedAt,omitempty"`
}

// ProjectAuthorization records a user's relationship to a project.
// Verified and the ACL reference are mutated only by administrative
// action, never by the user themselves. Role is the fallback permission
// group used when no ACL document is referenced.
type ProjectAuthorization struct {
	ProjectID string `json:"projectId"`
	Verified  bool   `json:"verified"`
	ACLID     string `json:"aclId,omitempty"`
	Role      string `json:"role,omitempty"`
}

// PersonInfo is the identity-verification record for a natural person,
// keyed by the normalized (digits-only) national tax ID and sourced
// from the external registry. Immutable after creation except for soft
// deletion.
type PersonInfo struct {
	ID        string     `json:"id"`
	TaxID     string     `json:"taxId"`
	Country   string     `json:"country"`
	Name      string     `json:"name"`
	Username  string     `json:"username"`
	Mother    string     `json:"mother,omitempty"`
	Gender    string     `json:"gender,omitempty"`
	BirthDate time.Time  `json:"birthDate"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// CompanyInfo is the identity-verification record for an organization,
// keyed by the normalized 14-digit tax ID.
type CompanyInfo struct {
	ID          string     `json:"id"`
	TaxID       string     `json:"taxId"`
	Country     string     `json:"country"`
	Username    string     `json:"username"`
	LegalName   string     `json:"legalName"`
	TradeName   string     `json:"tradeName,omitempty"`
	Responsible string     `json:"responsible,omitempty"`
	LegalNature string     `json:"legalNature,omitempty"`
	FoundedAt   time.Time  `json:"foundedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// Project is a client application users can be authorized against.
type Project struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Site      string     `json:"site"`
	Secret    string     `json:"secret"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// TokenPair carries the credentials minted by login and refresh, along
// with the authorized project's site URL.
type TokenPair struct {
	AccessToken      string    `json:"token"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	Site             string    `json:"site,omitempty"`
}

// Deleted reports whether the record has been tombstoned.
func (u *User) Deleted() bool { return u != nil && u.DeletedAt != nil }
