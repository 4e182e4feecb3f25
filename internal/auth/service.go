package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"acesso.org/internal/acl"
	"acesso.org/internal/ids"
	"acesso.org/internal/registry"
	"acesso.org/internal/taxid"
	"acesso.org/internal/token"
)

// RegistryLookup is the external tax-ID registry collaborator. The core
// consults it only during registration, when a tax ID is not yet known
// locally.
type RegistryLookup interface {
	Person(ctx context.Context, taxID string) (registry.PersonRecord, error)
	Company(ctx context.Context, taxID string) (registry.CompanyRecord, error)
}

// Secrets holds the three independent signing secrets. Access and
// refresh secrets must differ so a refresh token can never be replayed
// as an access token.
type Secrets struct {
	Access   []byte
	Refresh  []byte
	Recovery []byte
}

// Service orchestrates the authentication and authorization flows.
type Service struct {
	store    Store
	registry RegistryLookup
	signer   *token.Signer

	secrets     Secrets
	accessTTL   time.Duration
	refreshTTL  time.Duration
	recoveryTTL time.Duration

	now     func() time.Time
	limiter *keyLimiter
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithRecoveryTTL configures password-recovery token lifetime.
func WithRecoveryTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.recoveryTTL = ttl
		}
		return nil
	}
}

// WithLoginRateLimit enables a per-identifier token bucket on login
// attempts. Zero values disable limiting.
func WithLoginRateLimit(perMinute, burst int) ServiceOption {
	return func(s *Service) error {
		s.limiter = newKeyLimiter(perMinute, burst, func() time.Time { return s.now() })
		return nil
	}
}

// NewService constructs the orchestrator with optional configuration.
func NewService(store Store, reg RegistryLookup, secrets Secrets, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if len(secrets.Access) == 0 || len(secrets.Refresh) == 0 || len(secrets.Recovery) == 0 {
		return nil, errors.New("auth: all three signing secrets are required")
	}
	if bytes.Equal(secrets.Access, secrets.Refresh) {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	s := &Service{
		store:       store,
		registry:    reg,
		secrets:     secrets,
		accessTTL:   token.DefaultAccessTTL,
		refreshTTL:  token.DefaultRefreshTTL,
		recoveryTTL: token.DefaultRecoveryTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.signer = token.NewSigner(token.WithClock(func() time.Time { return s.now() }))
	return s, nil
}

// RegisterInput carries the registration request.
type RegisterInput struct {
	TaxID     string
	BirthDate time.Time
	Email     string
	Password  string
}

// Register validates the tax ID, resolves or creates the backing
// identity record, and creates the user with a hashed password and an
// empty authorization set. It returns the new user id; login is a
// separate explicit step, no token is issued here.
func (s *Service) Register(ctx context.Context, in RegisterInput) (string, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || in.Password == "" || strings.TrimSpace(in.TaxID) == "" || in.BirthDate.IsZero() {
		return "", fmt.Errorf("%w: taxId, birthDate, email and password are required", ErrValidation)
	}

	digits := taxid.Normalize(in.TaxID)
	var userType UserType
	switch {
	case taxid.ValidPersonalID(digits):
		userType = TypePerson
	case taxid.ValidOrganizationID(digits):
		userType = TypeCompany
	default:
		return "", ErrInvalidTaxID
	}

	users := s.store.Users(ctx)
	if _, err := users.FindByEmail(ctx, email); err == nil {
		return "", ErrDuplicateEmail
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	bound, err := users.FindByTaxID(ctx, digits)
	if err != nil {
		return "", err
	}
	if len(bound) > 0 {
		return "", ErrDuplicateTaxID
	}

	user := &User{
		ID:             ids.New(),
		Email:          email,
		Type:           userType,
		Authorizations: make(map[string]ProjectAuthorization),
	}
	switch userType {
	case TypePerson:
		person, err := s.resolvePerson(ctx, digits, in.BirthDate)
		if err != nil {
			return "", err
		}
		user.PersonID = person.ID
	case TypeCompany:
		company, err := s.resolveCompany(ctx, digits, in.BirthDate)
		if err != nil {
			return "", err
		}
		user.CompanyID = company.ID
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	user.PasswordHash = hash

	if err := users.Create(ctx, user); err != nil {
		return "", err
	}
	return user.ID, nil
}

// resolvePerson finds the person record for the tax ID, fetching it
// from the external registry when not yet known locally. For a known
// record the caller-supplied birth date must agree with the registry
// data.
func (s *Service) resolvePerson(ctx context.Context, digits string, birthDate time.Time) (*PersonInfo, error) {
	people := s.store.People(ctx)
	person, err := people.FindByTaxID(ctx, digits)
	if err == nil {
		if !sameDate(person.BirthDate, birthDate) {
			return nil, ErrBirthDateMismatch
		}
		return person, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if s.registry == nil {
		return nil, ErrUpstream
	}

	rec, err := s.registry.Person(ctx, digits)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, fmt.Errorf("%w: tax id not present in national registry", ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if !sameDate(rec.BirthDate, birthDate) {
		return nil, ErrBirthDateMismatch
	}

	username, err := s.deriveUsername(ctx, rec.Name, people.CountByUsernamePrefix)
	if err != nil {
		return nil, err
	}
	person = &PersonInfo{
		ID:        ids.New(),
		TaxID:     digits,
		Country:   rec.Country,
		Name:      rec.Name,
		Username:  username,
		Mother:    rec.Mother,
		Gender:    rec.Gender,
		BirthDate: rec.BirthDate,
	}
	if err := people.Create(ctx, person); err != nil {
		return nil, err
	}
	return person, nil
}

func (s *Service) resolveCompany(ctx context.Context, digits string, foundedAt time.Time) (*CompanyInfo, error) {
	companies := s.store.Companies(ctx)
	company, err := companies.FindByTaxID(ctx, digits)
	if err == nil {
		if !sameDate(company.FoundedAt, foundedAt) {
			return nil, ErrBirthDateMismatch
		}
		return company, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if s.registry == nil {
		return nil, ErrUpstream
	}

	rec, err := s.registry.Company(ctx, digits)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, fmt.Errorf("%w: tax id not present in national registry", ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if !sameDate(rec.FoundedAt, foundedAt) {
		return nil, ErrBirthDateMismatch
	}

	username, err := s.deriveUsername(ctx, rec.LegalName, companies.CountByUsernamePrefix)
	if err != nil {
		return nil, err
	}
	company = &CompanyInfo{
		ID:          ids.New(),
		TaxID:       digits,
		Country:     rec.Country,
		Username:    username,
		LegalName:   rec.LegalName,
		TradeName:   rec.TradeName,
		Responsible: rec.Responsible,
		LegalNature: rec.LegalNature,
		FoundedAt:   rec.FoundedAt,
	}
	if err := companies.Create(ctx, company); err != nil {
		return nil, err
	}
	return company, nil
}

// deriveUsername builds "<first><last>_<n>" from a registry name, where
// n counts the live records already using the same prefix.
func (s *Service) deriveUsername(ctx context.Context, fullName string, count func(context.Context, string) (int, error)) (string, error) {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(fullName)))
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: registry returned an empty name", ErrUpstream)
	}
	prefix := parts[0] + parts[len(parts)-1] + "_"
	n, err := count(ctx, prefix)
	if err != nil {
		return "", err
	}
	return prefix + strconv.Itoa(n), nil
}

func sameDate(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// LoginInput carries the login request. Identifier may be an email, a
// tax ID, or a username; the classifier routes the lookup.
type LoginInput struct {
	Identifier string
	Password   string
	ProjectID  string
}

// Login authenticates the identifier/password pair and requires a
// verified authorization for the project before minting a token pair.
// Lookups by tax ID or username may return several candidate accounts;
// the password is checked against each until one matches.
func (s *Service) Login(ctx context.Context, in LoginInput) (TokenPair, error) {
	identifier := strings.TrimSpace(in.Identifier)
	if identifier == "" || in.Password == "" || in.ProjectID == "" {
		return TokenPair{}, fmt.Errorf("%w: identifier, password and projectId are required", ErrValidation)
	}
	if !s.limiter.allow(identifier) {
		return TokenPair{}, ErrRateLimited
	}

	users := s.store.Users(ctx)
	var candidates []*User
	switch taxid.Classify(identifier) {
	case taxid.Email:
		user, err := users.FindByEmail(ctx, strings.ToLower(identifier))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return TokenPair{}, ErrUserNotFound
			}
			return TokenPair{}, err
		}
		candidates = []*User{user}
	case taxid.PersonalID, taxid.OrganizationID:
		found, err := users.FindByTaxID(ctx, taxid.Normalize(identifier))
		if err != nil {
			return TokenPair{}, err
		}
		candidates = found
	case taxid.Username:
		found, err := users.FindByUsername(ctx, identifier)
		if err != nil {
			return TokenPair{}, err
		}
		candidates = found
	default:
		return TokenPair{}, fmt.Errorf("%w: unrecognized identifier", ErrValidation)
	}
	if len(candidates) == 0 {
		return TokenPair{}, ErrUserNotFound
	}

	var user *User
	for _, candidate := range candidates {
		if PasswordMatches(candidate.PasswordHash, in.Password) {
			user = candidate
			break
		}
	}
	if user == nil {
		return TokenPair{}, ErrIncorrectPassword
	}

	authz, ok := user.Authorization(in.ProjectID)
	if !ok {
		return TokenPair{}, ErrNotAuthorized
	}
	if !authz.Verified {
		return TokenPair{}, ErrNotVerified
	}

	project, err := s.store.Projects(ctx).Find(ctx, in.ProjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrProjectNotFound
		}
		return TokenPair{}, err
	}

	pair, err := s.mintPair(user.ID, in.ProjectID, aclClaim(authz))
	if err != nil {
		return TokenPair{}, err
	}
	pair.Site = project.Site
	return pair, nil
}

// aclClaim is the ACL identifier embedded into token claims: the ACL
// document id when referenced, otherwise the fallback role name.
func aclClaim(authz ProjectAuthorization) string {
	if authz.ACLID != "" {
		return authz.ACLID
	}
	return authz.Role
}

func (s *Service) mintPair(userID, projectID, aclID string) (TokenPair, error) {
	now := s.now().UTC()
	access, err := s.signer.Issue(token.AccessClaims(userID, projectID, aclID), s.secrets.Access, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.signer.Issue(token.RefreshClaims(userID, projectID, aclID), s.secrets.Refresh, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(s.accessTTL),
		RefreshExpiresAt: now.Add(s.refreshTTL),
	}, nil
}

// AuthorizeProjectInput carries the administrative grant request.
type AuthorizeProjectInput struct {
	UserID    string
	ProjectID string
	Verified  bool
	ACLID     string
	Role      string
}

// AuthorizeProject grants the user access to a project. The grant is
// idempotent: an existing authorization is left untouched. It fails
// when the project does not resolve. The returned string is the
// project's site URL.
func (s *Service) AuthorizeProject(ctx context.Context, in AuthorizeProjectInput) (string, error) {
	if in.UserID == "" || in.ProjectID == "" {
		return "", fmt.Errorf("%w: userId and projectId are required", ErrValidation)
	}
	users := s.store.Users(ctx)
	if _, err := users.Find(ctx, in.UserID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	project, err := s.store.Projects(ctx).Find(ctx, in.ProjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrProjectNotFound
		}
		return "", err
	}

	authz := ProjectAuthorization{
		ProjectID: in.ProjectID,
		Verified:  in.Verified,
		ACLID:     in.ACLID,
		Role:      in.Role,
	}
	if err := users.AddAuthorization(ctx, in.UserID, authz); err != nil {
		return "", err
	}
	return project.Site, nil
}

// CheckInput carries an endpoint permission check.
type CheckInput struct {
	AccessToken string
	UserID      string
	ProjectID   string
	Endpoint    string
	Method      string
	Roles       acl.RoleTable
}

// CheckEndpoint verifies the access token, resolves the user's
// authorization and its ACL, and evaluates the requested endpoint and
// method against it. A nil return means the request is allowed.
func (s *Service) CheckEndpoint(ctx context.Context, in CheckInput) error {
	if in.AccessToken == "" || in.UserID == "" || in.ProjectID == "" || in.Endpoint == "" || in.Method == "" {
		return fmt.Errorf("%w: token, userId, projectId, endpoint and method are required", ErrValidation)
	}
	claims, err := s.signer.Decode(in.AccessToken, s.secrets.Access)
	if err != nil || claims.Kind != token.KindAccess {
		return ErrInvalidToken
	}
	// The token must belong to the user whose access is being checked.
	if claims.Subject != in.UserID {
		return ErrInvalidToken
	}

	user, err := s.store.Users(ctx).Find(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	authz, ok := user.Authorization(in.ProjectID)
	if !ok {
		return ErrNotAuthorized
	}
	if !authz.Verified {
		return ErrNotVerified
	}

	perms, err := s.resolvePermissions(ctx, authz, in.Roles)
	if err != nil {
		return err
	}
	if !acl.Allowed(perms, in.Endpoint, in.Method) {
		return ErrEndpointDenied
	}
	return nil
}

// resolvePermissions loads the authorization's ACL document when one is
// referenced, otherwise falls back to the caller-supplied role table.
func (s *Service) resolvePermissions(ctx context.Context, authz ProjectAuthorization, roles acl.RoleTable) ([]acl.Permission, error) {
	if authz.ACLID != "" {
		doc, err := s.store.ACLs(ctx).Find(ctx, authz.ACLID)
		if err == nil {
			return doc.Permissions, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	if authz.Role != "" {
		if role, ok := roles.Find(authz.Role); ok {
			return role.Permissions, nil
		}
	}
	return nil, ErrEndpointDenied
}

// Refresh decodes the refresh token, re-validates that its subject
// still holds an authorization for the project, and mints a fresh pair
// carrying the original ACL claim forward.
func (s *Service) Refresh(ctx context.Context, refreshToken, projectID string) (TokenPair, error) {
	if refreshToken == "" || projectID == "" {
		return TokenPair{}, fmt.Errorf("%w: refreshToken and projectId are required", ErrValidation)
	}
	claims, err := s.signer.Decode(refreshToken, s.secrets.Refresh)
	if err != nil || claims.Kind != token.KindRefresh {
		return TokenPair{}, ErrInvalidToken
	}

	user, err := s.store.Users(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrUserNotFound
		}
		return TokenPair{}, err
	}
	if _, err := s.store.Projects(ctx).Find(ctx, projectID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrProjectNotFound
		}
		return TokenPair{}, err
	}
	if _, ok := user.Authorization(projectID); !ok {
		return TokenPair{}, ErrNotAuthorized
	}

	return s.mintPair(user.ID, projectID, claims.ACLID)
}

// GenerateRecoveryToken issues a short-lived token for the password
// recovery flow, keyed by email lookup.
func (s *Service) GenerateRecoveryToken(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrValidation)
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	return s.signer.Issue(token.RecoveryClaims(user.ID), s.secrets.Recovery, s.recoveryTTL)
}

// ChangePassword verifies the recovery token and replaces the stored
// password hash for its subject.
func (s *Service) ChangePassword(ctx context.Context, recoveryToken, newPassword string) error {
	if recoveryToken == "" || newPassword == "" {
		return fmt.Errorf("%w: recoveryToken and password are required", ErrValidation)
	}
	claims, err := s.signer.Decode(recoveryToken, s.secrets.Recovery)
	if err != nil || claims.Kind != token.KindRecovery {
		return ErrInvalidToken
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.store.Users(ctx).UpdatePassword(ctx, claims.Subject, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

// GetUserInfo decodes the access token and returns its subject's
// record, scoped to a project the user has authorized. The stored
// password hash is never exposed.
func (s *Service) GetUserInfo(ctx context.Context, accessToken, projectID string) (*User, error) {
	if accessToken == "" || projectID == "" {
		return nil, fmt.Errorf("%w: token and projectId are required", ErrValidation)
	}
	claims, err := s.signer.Decode(accessToken, s.secrets.Access)
	if err != nil || claims.Kind != token.KindAccess {
		return nil, ErrInvalidToken
	}
	user, err := s.store.Users(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if _, ok := user.Authorization(projectID); !ok {
		return nil, ErrNotAuthorized
	}
	sanitized := *user
	sanitized.PasswordHash = ""
	return &sanitized, nil
}
