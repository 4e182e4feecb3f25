package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"acesso.org/internal/acl"
	"acesso.org/internal/registry"
)

var (
	testBirth   = time.Date(1990, time.March, 14, 0, 0, 0, 0, time.UTC)
	testFounded = time.Date(2001, time.July, 2, 0, 0, 0, 0, time.UTC)
)

type stubRegistry struct {
	people    map[string]registry.PersonRecord
	companies map[string]registry.CompanyRecord
}

func (s stubRegistry) Person(_ context.Context, taxID string) (registry.PersonRecord, error) {
	rec, ok := s.people[taxID]
	if !ok {
		return registry.PersonRecord{}, registry.ErrNotFound
	}
	return rec, nil
}

func (s stubRegistry) Company(_ context.Context, taxID string) (registry.CompanyRecord, error) {
	rec, ok := s.companies[taxID]
	if !ok {
		return registry.CompanyRecord{}, registry.ErrNotFound
	}
	return rec, nil
}

func testSecrets() Secrets {
	return Secrets{
		Access:   []byte("access-secret"),
		Refresh:  []byte("refresh-secret"),
		Recovery: []byte("recovery-secret"),
	}
}

func testRegistry() stubRegistry {
	return stubRegistry{
		people: map[string]registry.PersonRecord{
			"11144477735": {
				TaxID:     "11144477735",
				Name:      "Maria Souza",
				Mother:    "Ana Souza",
				Gender:    "F",
				Country:   "BR",
				BirthDate: testBirth,
			},
			"52998224725": {
				TaxID:     "52998224725",
				Name:      "Maria da Silva Souza",
				Country:   "BR",
				BirthDate: testBirth,
			},
		},
		companies: map[string]registry.CompanyRecord{
			"11222333000181": {
				TaxID:     "11222333000181",
				LegalName: "Acme Comercio Ltda",
				TradeName: "Acme",
				Country:   "BR",
				FoundedAt: testFounded,
			},
		},
	}
}

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *InMemory) {
	t.Helper()
	store := NewInMemory()
	svc, err := NewService(store, testRegistry(), testSecrets(), opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func registerPerson(t *testing.T, svc *Service, email string) string {
	t.Helper()
	id, err := svc.Register(context.Background(), RegisterInput{
		TaxID:     "111.444.777-35",
		BirthDate: testBirth,
		Email:     email,
		Password:  "hunter22",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return id
}

func seedProject(t *testing.T, store *InMemory, id, site string) {
	t.Helper()
	err := store.Projects(context.Background()).Create(context.Background(), &Project{
		ID:   id,
		Name: id,
		Site: site,
	})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
}

func TestRegisterLoginRefreshFlow(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	userID := registerPerson(t, svc, "maria@example.com")
	seedProject(t, store, "proj-1", "https://app.example.com")

	site, err := svc.AuthorizeProject(ctx, AuthorizeProjectInput{
		UserID:    userID,
		ProjectID: "proj-1",
		Verified:  true,
		Role:      "user",
	})
	if err != nil {
		t.Fatalf("AuthorizeProject: %v", err)
	}
	if site != "https://app.example.com" {
		t.Fatalf("site = %q", site)
	}

	pair, err := svc.Login(ctx, LoginInput{
		Identifier: "maria@example.com",
		Password:   "hunter22",
		ProjectID:  "proj-1",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Fatal("access and refresh tokens must differ")
	}
	if pair.Site != "https://app.example.com" {
		t.Fatalf("pair site = %q", pair.Site)
	}
	if !pair.RefreshExpiresAt.After(pair.AccessExpiresAt) {
		t.Fatal("refresh token should outlive access token")
	}

	next, err := svc.Refresh(ctx, pair.RefreshToken, "proj-1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.AccessToken == "" || next.AccessToken == pair.AccessToken {
		t.Fatal("refresh should mint a fresh access token")
	}

	// The refresh token is bound to the same subject.
	claims, err := svc.signer.Decode(next.AccessToken, svc.secrets.Access)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if claims.Subject != userID {
		t.Fatalf("subject = %q, want %q", claims.Subject, userID)
	}
}

func TestRegisterDuplicates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	registerPerson(t, svc, "maria@example.com")

	_, err := svc.Register(ctx, RegisterInput{
		TaxID:     "52998224725",
		BirthDate: testBirth,
		Email:     "maria@example.com",
		Password:  "another",
	})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("err = %v, want ErrDuplicateEmail", err)
	}

	_, err = svc.Register(ctx, RegisterInput{
		TaxID:     "11144477735",
		BirthDate: testBirth,
		Email:     "maria2@example.com",
		Password:  "another",
	})
	if !errors.Is(err, ErrDuplicateTaxID) {
		t.Fatalf("err = %v, want ErrDuplicateTaxID", err)
	}
}

func TestRegisterBirthDateMismatch(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Register(context.Background(), RegisterInput{
		TaxID:     "11144477735",
		BirthDate: testBirth.AddDate(0, 0, 1),
		Email:     "maria@example.com",
		Password:  "hunter22",
	})
	if !errors.Is(err, ErrBirthDateMismatch) {
		t.Fatalf("err = %v, want ErrBirthDateMismatch", err)
	}
}

func TestRegisterInvalidTaxID(t *testing.T) {
	svc, _ := newTestService(t)
	for _, id := range []string{"11144477734", "00000000000", "123", "11222333000182"} {
		_, err := svc.Register(context.Background(), RegisterInput{
			TaxID:     id,
			BirthDate: testBirth,
			Email:     "x@example.com",
			Password:  "hunter22",
		})
		if !errors.Is(err, ErrInvalidTaxID) {
			t.Fatalf("Register(%q) err = %v, want ErrInvalidTaxID", id, err)
		}
	}
}

func TestRegisterUnknownToRegistry(t *testing.T) {
	store := NewInMemory()
	svc, err := NewService(store, stubRegistry{}, testSecrets())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	_, err = svc.Register(context.Background(), RegisterInput{
		TaxID:     "11144477735",
		BirthDate: testBirth,
		Email:     "ghost@example.com",
		Password:  "hunter22",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRegisterCompany(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, RegisterInput{
		TaxID:     "11.222.333/0001-81",
		BirthDate: testFounded,
		Email:     "contact@acme.example.com",
		Password:  "hunter22",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	user, err := store.Users(ctx).Find(ctx, id)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if user.Type != TypeCompany || user.CompanyID == "" {
		t.Fatalf("unexpected user: %+v", user)
	}
	company, err := store.Companies(ctx).Find(ctx, user.CompanyID)
	if err != nil {
		t.Fatalf("find company: %v", err)
	}
	if company.Username != "acmeltda_0" {
		t.Fatalf("username = %q, want %q", company.Username, "acmeltda_0")
	}
}

func TestUsernameSuffixIncrements(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	registerPerson(t, svc, "maria@example.com")
	// Both registry names collapse to the mariasouza_ prefix.
	if _, err := svc.Register(ctx, RegisterInput{
		TaxID:     "52998224725",
		BirthDate: testBirth,
		Email:     "maria2@example.com",
		Password:  "hunter22",
	}); err != nil {
		t.Fatalf("Register second: %v", err)
	}

	first, err := store.People(ctx).FindByTaxID(ctx, "11144477735")
	if err != nil {
		t.Fatalf("find first person: %v", err)
	}
	second, err := store.People(ctx).FindByTaxID(ctx, "52998224725")
	if err != nil {
		t.Fatalf("find second person: %v", err)
	}
	if first.Username != "mariasouza_0" {
		t.Fatalf("first username = %q", first.Username)
	}
	if second.Username != "mariasouza_1" {
		t.Fatalf("second username = %q", second.Username)
	}
}

func TestLoginByTaxIDAndUsername(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	userID := registerPerson(t, svc, "maria@example.com")
	seedProject(t, store, "proj-1", "https://app.example.com")
	if _, err := svc.AuthorizeProject(ctx, AuthorizeProjectInput{
		UserID: userID, ProjectID: "proj-1", Verified: true, Role: "user",
	}); err != nil {
		t.Fatalf("AuthorizeProject: %v", err)
	}

	for _, identifier := range []string{"111.444.777-35", "11144477735", "mariasouza_0"} {
		if _, err := svc.Login(ctx, LoginInput{
			Identifier: identifier,
			Password:   "hunter22",
			ProjectID:  "proj-1",
		}); err != nil {
			t.Fatalf("Login(%q): %v", identifier, err)
		}
	}
}

func TestLoginFailures(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	userID := registerPerson(t, svc, "maria@example.com")
	seedProject(t, store, "proj-1", "https://app.example.com")

	_, err := svc.Login(ctx, LoginInput{Identifier: "nobody@example.com", Password: "x", ProjectID: "proj-1"})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown email err = %v, want ErrUserNotFound", err)
	}

	_, err = svc.Login(ctx, LoginInput{Identifier: "maria@example.com", Password: "wrong", ProjectID: "proj-1"})
	if !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("wrong password err = %v, want ErrIncorrectPassword", err)
	}

	_, err = svc.Login(ctx, LoginInput{Identifier: "maria@example.com", Password: "hunter22", ProjectID: "proj-1"})
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("no grant err = %v, want ErrNotAuthorized", err)
	}

	if _, err := svc.AuthorizeProject(ctx, AuthorizeProjectInput{
		UserID: userID, ProjectID: "proj-1", Verified: false, Role: "user",
	}); err != nil {
		t.Fatalf("AuthorizeProject: %v", err)
	}
	_, err = svc.Login(ctx, LoginInput{Identifier: "maria@example.com", Password: "hunter22", ProjectID: "proj-1"})
	if !errors.Is(err, ErrNotVerified) {
		t.Fatalf("unverified err = %v, want ErrNotVerified", err)
	}
}

func TestLoginRateLimit(t *testing.T) {
	current := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	svc, store := newTestService(t,
		WithClock(func() time.Time { return current }),
		WithLoginRateLimit(1, 1),
	)
	ctx := context.Background()

	userID := registerPerson(t, svc, "maria@example.com")
	seedProject(t, store, "proj-1", "https://app.example.com")
	if _, err := svc.AuthorizeProject(ctx, AuthorizeProjectInput{
		UserID: userID, ProjectID: "proj-1", Verified: true, Role: "user",
	}); err != nil {
		t.Fatalf("AuthorizeProject: %v", err)
	}

	login := func() error {
		_, err := svc.Login(ctx, LoginInput{
			Identifier: "maria@example.com",
			Password:   "hunter22",
			ProjectID:  "proj-1",
		})
		return err
	}
	if err := login(); err != nil {
		t.Fatalf("first login: %v", err)
	}
	if err := login(); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second login err = %v, want ErrRateLimited", err)
	}
	// The bucket refills after a minute.
	current = current.Add(90 * time.Second)
	if err := login(); err != nil {
		t.Fatalf("login after refill: %v", err)
	}
}

func TestGrantIsIdempotentThroughStore(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	userID := registerPerson(t, svc, "maria@example.com")
	seedProject(t, store, "proj-1", "https://app.example.com")

	if _, err := svc.AuthorizeProject(ctx, AuthorizeProjectInput{
		UserID: userID, ProjectID: "proj-1", Verified: true, ACLID: "acl-1",
	}); err != nil {
		t.Fatalf("first grant: %v", err)
	}
	// A repeat grant with different attributes must not alter the
	// existing entry.
	if _, err := svc.AuthorizeProject(ctx, AuthorizeProjectInput{
		UserID: userID, ProjectID: "proj-1", Verified: false, Role: "intruder",
	}); err != nil {
		t.Fatalf("second grant: %v", err)
	}

	user, err := store.Users(ctx).Find(ctx, userID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	authz, ok := user.Authorization("proj-1")
	if !ok {
		t.Fatal("grant missing")
	}
	if !authz.Verified || authz.ACLID != "acl-1" || authz.Role != "" {
		t.Fatalf("grant mutated: %+v", authz)
	}
}

func TestCheckEndpoint(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	userID := registerPerson(t, svc, "maria@example.com")
	seedProject(t, store, "proj-1", "https://app.example.com")
	if err := store.ACLs(ctx).Create(ctx, &acl.ACL{
		ID:        "acl-1",
		Name:      "orders-read",
		ProjectID: "proj-1",
		Permissions: []acl.Permission{
			{Resource: "/api/orders*", Methods: []string{"GET"}},
		},
	}); err != nil {
		t.Fatalf("seed acl: %v", err)
	}
	if _, err := svc.AuthorizeProject(ctx, AuthorizeProjectInput{
		UserID: userID, ProjectID: "proj-1", Verified: true, ACLID: "acl-1",
	}); err != nil {
		t.Fatalf("AuthorizeProject: %v", err)
	}
	pair, err := svc.Login(ctx, LoginInput{
		Identifier: "maria@example.com", Password: "hunter22", ProjectID: "proj-1",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	check := func(endpoint, method string) error {
		return svc.CheckEndpoint(ctx, CheckInput{
			AccessToken: pair.AccessToken,
			UserID:      userID,
			ProjectID:   "proj-1",
			Endpoint:    endpoint,
			Method:      method,
		})
	}
	if err := check("/api/orders/42", "GET"); err != nil {
		t.Fatalf("allowed endpoint rejected: %v", err)
	}
	if err := check("/api/orders/42", "DELETE"); !errors.Is(err, ErrEndpointDenied) {
		t.Fatalf("method err = %v, want ErrEndpointDenied", err)
	}
	if err := check("/api/admin", "GET"); !errors.Is(err, ErrEndpointDenied) {
		t.Fatalf("resource err = %v, want ErrEndpointDenied", err)
	}

	// A token presented for another user's check is rejected outright.
	err = svc.CheckEndpoint(ctx, CheckInput{
		AccessToken: pair.AccessToken,
		UserID:      "someone-else",
		ProjectID:   "proj-1",
		Endpoint:    "/api/orders/42",
		Method:      "GET",
	})
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign check err = %v, want ErrInvalidToken", err)
	}
}

func TestCheckEndpointRoleFallback(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	userID := registerPerson(t, svc, "maria@example.com")
	seedProject(t, store, "proj-1", "https://app.example.com")
	if _, err := svc.AuthorizeProject(ctx, AuthorizeProjectInput{
		UserID: userID, ProjectID: "proj-1", Verified: true, Role: "reporter",
	}); err != nil {
		t.Fatalf("AuthorizeProject: %v", err)
	}
	pair, err := svc.Login(ctx, LoginInput{
		Identifier: "maria@example.com", Password: "hunter22", ProjectID: "proj-1",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	roles := acl.RoleTable{
		{Group: "reporter", Permissions: []acl.Permission{
			{Resource: "/api/reports*", Methods: []string{"GET", "POST"}},
		}},
	}
	err = svc.CheckEndpoint(ctx, CheckInput{
		AccessToken: pair.AccessToken,
		UserID:      userID,
		ProjectID:   "proj-1",
		Endpoint:    "/api/reports/weekly",
		Method:      "POST",
		Roles:       roles,
	})
	if err != nil {
		t.Fatalf("role fallback rejected: %v", err)
	}

	// Without a matching role table entry the check denies.
	err = svc.CheckEndpoint(ctx, CheckInput{
		AccessToken: pair.AccessToken,
		UserID:      userID,
		ProjectID:   "proj-1",
		Endpoint:    "/api/reports/weekly",
		Method:      "POST",
	})
	if !errors.Is(err, ErrEndpointDenied) {
		t.Fatalf("err = %v, want ErrEndpointDenied", err)
	}
}

func TestPasswordRecoveryFlow(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	userID := registerPerson(t, svc, "maria@example.com")
	seedProject(t, store, "proj-1", "https://app.example.com")
	if _, err := svc.AuthorizeProject(ctx, AuthorizeProjectInput{
		UserID: userID, ProjectID: "proj-1", Verified: true, Role: "user",
	}); err != nil {
		t.Fatalf("AuthorizeProject: %v", err)
	}

	recovery, err := svc.GenerateRecoveryToken(ctx, "maria@example.com")
	if err != nil {
		t.Fatalf("GenerateRecoveryToken: %v", err)
	}
	if err := svc.ChangePassword(ctx, recovery, "n3w-password"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, err := svc.Login(ctx, LoginInput{
		Identifier: "maria@example.com", Password: "hunter22", ProjectID: "proj-1",
	}); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("old password err = %v, want ErrIncorrectPassword", err)
	}
	if _, err := svc.Login(ctx, LoginInput{
		Identifier: "maria@example.com", Password: "n3w-password", ProjectID: "proj-1",
	}); err != nil {
		t.Fatalf("new password login: %v", err)
	}

	// An access token is not accepted by the recovery flow.
	pair, err := svc.Login(ctx, LoginInput{
		Identifier: "maria@example.com", Password: "n3w-password", ProjectID: "proj-1",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.ChangePassword(ctx, pair.AccessToken, "again"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token err = %v, want ErrInvalidToken", err)
	}
}

func TestGetUserInfoSanitizes(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	userID := registerPerson(t, svc, "maria@example.com")
	seedProject(t, store, "proj-1", "https://app.example.com")
	if _, err := svc.AuthorizeProject(ctx, AuthorizeProjectInput{
		UserID: userID, ProjectID: "proj-1", Verified: true, Role: "user",
	}); err != nil {
		t.Fatalf("AuthorizeProject: %v", err)
	}
	pair, err := svc.Login(ctx, LoginInput{
		Identifier: "maria@example.com", Password: "hunter22", ProjectID: "proj-1",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	user, err := svc.GetUserInfo(ctx, pair.AccessToken, "proj-1")
	if err != nil {
		t.Fatalf("GetUserInfo: %v", err)
	}
	if user.ID != userID {
		t.Fatalf("id = %q, want %q", user.ID, userID)
	}
	if user.PasswordHash != "" {
		t.Fatal("password hash leaked")
	}

	if _, err := svc.GetUserInfo(ctx, pair.AccessToken, "other-project"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
}
