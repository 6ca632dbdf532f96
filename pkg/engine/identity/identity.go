// Package identity canonicalizes directory user identities into comparable keys.
package identity

import (
	"strings"
)

// Type classifies how a directory user authenticates.
type Type string

const (
	Federated  Type = "federatedID"
	Enterprise Type = "enterpriseID"
	Business   Type = "businessID"
)

// AllTypes is the default allow-list when the configuration names none.
var AllTypes = []Type{Federated, Enterprise, Business}

// ParseType matches a raw identity type string against the known enum,
// case-insensitively. Unknown input returns ("", false).
func ParseType(raw string) (Type, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "federatedid":
		return Federated, true
	case "enterpriseid":
		return Enterprise, true
	case "businessid":
		return Business, true
	}
	return "", false
}

// Normalize trims and lower-cases a username, domain, or email component.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// UserKey constructs the canonical key "type,username,domain" for a directory
// user. The username falls back to the email when absent. If the username is
// email-shaped the domain component is forced empty regardless of input;
// otherwise a non-empty domain is required.
//
// Invalid input (unknown type, no username or email, or a bare username with
// no domain) returns ("", false) rather than an error: the caller skips the
// user and keys nothing.
func UserKey(idType, username, domain, email string) (string, bool) {
	t, ok := ParseType(idType)
	if !ok {
		return "", false
	}
	name := Normalize(username)
	if name == "" {
		name = Normalize(email)
	}
	if name == "" {
		return "", false
	}
	dom := Normalize(domain)
	if strings.Contains(name, "@") {
		dom = ""
	} else if dom == "" {
		return "", false
	}
	return string(t) + "," + name + "," + dom, true
}
