// Command smoke-auth drives the full identity flow end to end:
// registration, project grant, login, endpoint check, refresh and
// password recovery. It runs against PostgreSQL when a DSN is
// configured, otherwise against the in-memory store, and can expose a
// metrics endpoint while it runs.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"acesso.org/internal/acl"
	"acesso.org/internal/api"
	"acesso.org/internal/auth"
	"acesso.org/internal/config"
	"acesso.org/internal/obs"
	"acesso.org/internal/registry"
)

var version = "0.3.1"

// smokeRegistry serves fixed records so the tool can run without the
// national registries reachable.
type smokeRegistry struct{}

var (
	smokeBirth   = time.Date(1990, time.March, 14, 0, 0, 0, 0, time.UTC)
	smokePerson  = "11144477735"
	smokeProject = "smoke-project"
)

func (smokeRegistry) Person(_ context.Context, taxID string) (registry.PersonRecord, error) {
	if taxID != smokePerson {
		return registry.PersonRecord{}, registry.ErrNotFound
	}
	return registry.PersonRecord{
		TaxID:     smokePerson,
		Name:      "Maria Souza",
		Country:   "BR",
		BirthDate: smokeBirth,
	}, nil
}

func (smokeRegistry) Company(context.Context, string) (registry.CompanyRecord, error) {
	return registry.CompanyRecord{}, registry.ErrNotFound
}

func main() {
	obs.Init()
	obs.InitBuildInfo(version, "smoke")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var store auth.Store
	if cfg.PGDSN != "" {
		db, err := sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer db.Close()
		pg := auth.NewPGStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("ensure schema: %v", err)
		}
		store = pg
		log.Printf("using postgres store")
	} else {
		store = auth.NewInMemory()
		log.Printf("using in-memory store")
	}

	var reg auth.RegistryLookup
	if cfg.PersonRegistryURL != "" || cfg.CompanyRegistryURL != "" {
		reg = registry.NewClient(cfg.PersonRegistryURL, cfg.CompanyRegistryURL)
	} else {
		reg = smokeRegistry{}
	}

	svc, err := auth.NewService(store, reg, auth.Secrets{
		Access:   []byte(cfg.AccessSecret),
		Refresh:  []byte(cfg.RefreshSecret),
		Recovery: []byte(cfg.RecoverySecret),
	},
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithRecoveryTTL(cfg.RecoveryTTL),
		auth.WithLoginRateLimit(cfg.LoginRatePerMinute, cfg.LoginRateBurst),
	)
	if err != nil {
		log.Fatalf("new service: %v", err)
	}
	front := api.New(svc)

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", obs.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Printf("metrics listener: %v", err)
			}
		}()
	}

	email := fmt.Sprintf("smoke-%d@example.com", time.Now().UnixNano())

	resp := front.Register(ctx, auth.RegisterInput{
		TaxID:     smokePerson,
		BirthDate: smokeBirth,
		Email:     email,
		Password:  "smoke-password",
	})
	if resp.Code != 200 {
		log.Fatalf("register: %s", resp.Message)
	}
	userID := resp.Data.(map[string]string)["id"]

	if err := store.Projects(ctx).Create(ctx, &auth.Project{
		ID:   smokeProject,
		Name: "Smoke Project",
		Site: "https://smoke.example.com",
	}); err != nil {
		log.Printf("seed project (may already exist): %v", err)
	}
	if err := store.ACLs(ctx).Create(ctx, &acl.ACL{
		ID:        "smoke-acl",
		Name:      "smoke",
		ProjectID: smokeProject,
		Permissions: []acl.Permission{
			{Resource: "/api/*", Methods: []string{"GET", "POST"}},
		},
	}); err != nil {
		log.Printf("seed acl (may already exist): %v", err)
	}

	resp = front.AuthorizeProject(ctx, auth.AuthorizeProjectInput{
		UserID:    userID,
		ProjectID: smokeProject,
		Verified:  true,
		ACLID:     "smoke-acl",
	})
	if resp.Code != 200 {
		log.Fatalf("authorize: %s", resp.Message)
	}

	resp = front.Login(ctx, auth.LoginInput{
		Identifier: email,
		Password:   "smoke-password",
		ProjectID:  smokeProject,
	})
	if resp.Code != 200 {
		log.Fatalf("login: %s", resp.Message)
	}
	pair := resp.Data.(auth.TokenPair)

	resp = front.CheckEndpoint(ctx, auth.CheckInput{
		AccessToken: pair.AccessToken,
		UserID:      userID,
		ProjectID:   smokeProject,
		Endpoint:    "/api/orders",
		Method:      "GET",
	})
	if resp.Code != 200 {
		log.Fatalf("check endpoint: %s", resp.Message)
	}
	resp = front.CheckEndpoint(ctx, auth.CheckInput{
		AccessToken: pair.AccessToken,
		UserID:      userID,
		ProjectID:   smokeProject,
		Endpoint:    "/api/orders",
		Method:      "DELETE",
	})
	if resp.Code == 200 {
		log.Fatalf("check endpoint: DELETE should have been denied")
	}

	resp = front.Refresh(ctx, pair.RefreshToken, smokeProject)
	if resp.Code != 200 {
		log.Fatalf("refresh: %s", resp.Message)
	}

	resp = front.RecoverPassword(ctx, email)
	if resp.Code != 200 {
		log.Fatalf("recover: %s", resp.Message)
	}
	recovery := resp.Data.(map[string]string)["recoveryToken"]

	resp = front.ChangePassword(ctx, recovery, "rotated-password")
	if resp.Code != 200 {
		log.Fatalf("change password: %s", resp.Message)
	}
	resp = front.Login(ctx, auth.LoginInput{
		Identifier: email,
		Password:   "rotated-password",
		ProjectID:  smokeProject,
	})
	if resp.Code != 200 {
		log.Fatalf("login after password change: %s", resp.Message)
	}

	fmt.Printf("✅ auth smoke test passed: user=%s project=%s\n", userID, smokeProject)
}
