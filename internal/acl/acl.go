// Package acl evaluates access control lists against requested
// endpoints. An ACL is a named permission set scoped to a project; the
// identity core resolves ACL documents but never owns their lifecycle.
package acl

import (
	"strings"
	"time"
)

// Permission grants a set of HTTP methods on a resource pattern. A
// pattern ending in '*' matches every endpoint sharing its prefix;
// any other pattern requires exact equality.
type Permission struct {
	Resource string   `json:"resource"`
	Methods  []string `json:"methods"`
}

// ACL is a named permission set scoped to a project.
type ACL struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	ProjectID   string       `json:"projectId"`
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	DeletedAt   *time.Time   `json:"deletedAt,omitempty"`
}

// Role names a permission set; a role table maps the role carried by a
// user's project authorization to its permissions.
type Role struct {
	Group       string       `json:"group"`
	Permissions []Permission `json:"permissions"`
}

// RoleTable is the caller-supplied list of roles for an endpoint check.
type RoleTable []Role

// Find returns the role with the given group name.
func (rt RoleTable) Find(group string) (Role, bool) {
	for _, role := range rt {
		if role.Group == group {
			return role, true
		}
	}
	return Role{}, false
}

// Allowed reports whether any permission entry grants method on
// endpoint. Entries combine as a logical OR: a later entry can grant
// access even if earlier ones did not match. There is no deny rule;
// absence of a matching entry denies.
func Allowed(perms []Permission, endpoint, method string) bool {
	for _, perm := range perms {
		if !matches(perm.Resource, endpoint) {
			continue
		}
		for _, m := range perm.Methods {
			if m == method {
				return true
			}
		}
	}
	return false
}

func matches(pattern, endpoint string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(endpoint, strings.TrimSuffix(pattern, "*"))
	}
	return endpoint == pattern
}
