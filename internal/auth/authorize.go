package auth

// Authorization returns the user's authorization for a project, if any.
// The embedded set is small and bounded (a handful of projects per
// user), so a map lookup over the owned collection suffices.
func (u *User) Authorization(projectID string) (ProjectAuthorization, bool) {
	if u == nil || len(u.Authorizations) == 0 {
		return ProjectAuthorization{}, false
	}
	authz, ok := u.Authorizations[projectID]
	return authz, ok
}

// Grant records an authorization and reports whether it was added.
// Granting an already-authorized project is a no-op that leaves the
// existing entry untouched even when the arguments differ: upgrades to
// Verified or the ACL reference go through an explicit administrative
// update, never through Grant.
func (u *User) Grant(authz ProjectAuthorization) bool {
	if u.Authorizations == nil {
		u.Authorizations = make(map[string]ProjectAuthorization, 1)
	}
	if _, ok := u.Authorizations[authz.ProjectID]; ok {
		return false
	}
	u.Authorizations[authz.ProjectID] = authz
	return true
}
