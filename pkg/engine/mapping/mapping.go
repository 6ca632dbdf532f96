// Package mapping builds the immutable lookup tables that drive per-user
// reconciliation decisions: assignment-group precedence lists, entitlement
// group sets, and directory-group to sign-role mappings. All tables are
// keyed by org name and lower-case their group names at construction; lookups
// must lower-case too.
package mapping

import (
	"fmt"
	"strings"
)

const (
	// DefaultOrg is the org implied by a bare group reference.
	DefaultOrg = "primary"

	// orgSeparator splits "org::group" references.
	orgSeparator = "::"
)

// GroupRef is a parsed "org::group" configuration reference. The group name
// keeps its original casing; normalization is the table builders' job.
type GroupRef struct {
	Org   string
	Group string
}

// ParseGroupRef parses "org::group" or a bare "group" (org defaults to
// DefaultOrg). An empty group name is a configuration error.
func ParseGroupRef(raw string) (GroupRef, error) {
	org := DefaultOrg
	group := strings.TrimSpace(raw)
	if i := strings.Index(group, orgSeparator); i >= 0 {
		org = strings.TrimSpace(group[:i])
		group = strings.TrimSpace(group[i+len(orgSeparator):])
		if org == "" {
			org = DefaultOrg
		}
	}
	if group == "" {
		return GroupRef{}, fmt.Errorf("invalid group reference %q: empty group name", raw)
	}
	return GroupRef{Org: org, Group: group}, nil
}

// AssignmentTable maps org -> ordered candidate group names (lower-cased).
// Order is assignment precedence: first match wins.
type AssignmentTable map[string][]string

// Candidates returns the org's precedence list. Orgs absent from the
// configuration get an empty list, never nil.
func (t AssignmentTable) Candidates(org string) []string {
	if groups, ok := t[org]; ok {
		return groups
	}
	return []string{}
}

// BuildAssignments parses the raw user_groups configuration list into an
// AssignmentTable, preserving input order per org.
func BuildAssignments(refs []string) (AssignmentTable, error) {
	table := AssignmentTable{}
	for _, raw := range refs {
		ref, err := ParseGroupRef(raw)
		if err != nil {
			return nil, fmt.Errorf("user_groups: %w", err)
		}
		table[ref.Org] = append(table[ref.Org], strings.ToLower(ref.Group))
	}
	return table, nil
}

// GroupSet maps org -> set of lower-cased group names.
type GroupSet map[string]map[string]bool

// Contains reports whether the org's set holds the group (case-insensitive).
func (s GroupSet) Contains(org, group string) bool {
	return s[org][strings.ToLower(group)]
}

// BuildGroupSet parses raw group references into a per-org membership set.
// Used for entitlement gating.
func BuildGroupSet(refs []string) (GroupSet, error) {
	set := GroupSet{}
	for _, raw := range refs {
		ref, err := ParseGroupRef(raw)
		if err != nil {
			return nil, fmt.Errorf("entitlement_groups: %w", err)
		}
		if set[ref.Org] == nil {
			set[ref.Org] = map[string]bool{}
		}
		set[ref.Org][strings.ToLower(ref.Group)] = true
	}
	return set, nil
}

// RoleRule is one admin_roles configuration entry: every member of any listed
// directory group receives the sign role.
type RoleRule struct {
	SignRole        string   `yaml:"sign_role"`
	DirectoryGroups []string `yaml:"directory_groups"`
}

// RoleTable maps org -> lower-cased directory group -> set of sign roles.
type RoleTable map[string]map[string]map[string]bool

// Roles returns the role set mapped to (org, group), or nil when unmapped.
// Group matching is case-insensitive.
func (t RoleTable) Roles(org, group string) map[string]bool {
	return t[org][strings.ToLower(group)]
}

// BuildRoleMap parses the admin_roles configuration. An entry with no sign
// role is a fatal configuration error; an entry with no directory groups is
// skipped. Role sets accumulate across entries.
func BuildRoleMap(rules []RoleRule) (RoleTable, error) {
	table := RoleTable{}
	for _, rule := range rules {
		if rule.SignRole == "" {
			return nil, fmt.Errorf("admin_roles: entry with directory groups %v must declare a sign role", rule.DirectoryGroups)
		}
		if len(rule.DirectoryGroups) == 0 {
			continue
		}
		for _, raw := range rule.DirectoryGroups {
			ref, err := ParseGroupRef(raw)
			if err != nil {
				return nil, fmt.Errorf("admin_roles: %w", err)
			}
			group := strings.ToLower(ref.Group)
			if table[ref.Org] == nil {
				table[ref.Org] = map[string]map[string]bool{}
			}
			if table[ref.Org][group] == nil {
				table[ref.Org][group] = map[string]bool{}
			}
			table[ref.Org][group][rule.SignRole] = true
		}
	}
	return table, nil
}
