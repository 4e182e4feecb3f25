package auth

import "testing"

func TestGrantIdempotent(t *testing.T) {
	u := &User{ID: "u1", Email: "user@example.com"}

	if !u.Grant(ProjectAuthorization{ProjectID: "p1", Verified: false, ACLID: "acl-1"}) {
		t.Fatal("first grant must add an entry")
	}
	// Re-granting with different arguments must not touch the entry.
	if u.Grant(ProjectAuthorization{ProjectID: "p1", Verified: true, ACLID: "acl-2"}) {
		t.Fatal("second grant must be a no-op")
	}
	if len(u.Authorizations) != 1 {
		t.Fatalf("expected exactly one authorization, got %d", len(u.Authorizations))
	}

	authz, ok := u.Authorization("p1")
	if !ok {
		t.Fatal("authorization must be present")
	}
	if authz.Verified || authz.ACLID != "acl-1" {
		t.Fatalf("first-recorded entry was altered: %+v", authz)
	}
}

func TestAuthorizationLookup(t *testing.T) {
	u := &User{ID: "u1"}
	if _, ok := u.Authorization("p1"); ok {
		t.Fatal("empty set must not resolve an authorization")
	}
	u.Grant(ProjectAuthorization{ProjectID: "p1"})
	u.Grant(ProjectAuthorization{ProjectID: "p2", Verified: true})

	if authz, ok := u.Authorization("p2"); !ok || !authz.Verified {
		t.Fatalf("Authorization(p2)=%+v, ok=%v", authz, ok)
	}
	if _, ok := u.Authorization("p3"); ok {
		t.Fatal("unknown project must not resolve")
	}
}
