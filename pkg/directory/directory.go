// Package directory defines the identity directory collaborator consumed by
// the reconciliation engine.
package directory

import "context"

// User is one person record sourced from the directory, including group
// memberships. Read-only to the engine; it lives for a single sync run.
type User struct {
	Email        string
	FirstName    string
	LastName     string
	Username     string
	Domain       string
	IdentityType string
	Groups       []string
	// Attributes carries extended attributes requested at load time
	// (e.g. country). Absent keys were not provided by the source.
	Attributes map[string]string
}

// Connector is the narrow interface every directory source implements.
type Connector interface {
	// LoadUsersAndGroups returns directory users. When allUsers is false,
	// only members of the given groups are returned; extendedAttributes
	// names extra per-user attributes the source should populate.
	LoadUsersAndGroups(ctx context.Context, groups []string, extendedAttributes []string, allUsers bool) ([]User, error)
}
