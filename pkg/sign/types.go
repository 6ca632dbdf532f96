package sign

import (
	"encoding/json"
	"fmt"
)

// User status values as reported by the sign API.
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

// Roles is an ordered role set. The sign API historically returned a bare
// string for single-role users, so it decodes from either a JSON string or a
// JSON array.
type Roles []string

func (r *Roles) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*r = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*r = Roles{single}
		return nil
	}
	return fmt.Errorf("roles: expected string or array, got %s", data)
}

// User is one sign-side account record. Mutated only through the connector's
// insert/update/deactivate calls.
type User struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Group     string `json:"group"`
	Roles     Roles  `json:"roles"`
	Status    string `json:"userStatus"`
}

// Profile is the payload for user create and update calls.
type Profile struct {
	Email     string   `json:"email"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	GroupID   string   `json:"groupId"`
	Roles     []string `json:"roles"`
}

// StatusUpdate is the payload for deactivation calls.
type StatusUpdate struct {
	UserStatus string `json:"userStatus"`
}
