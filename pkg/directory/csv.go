package directory

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// CSVConnector reads directory users from a CSV roster file. Recognized
// columns: email, firstname, lastname, username, domain, type, groups
// (pipe-separated). Any other column becomes an extended attribute.
type CSVConnector struct {
	Path string
	// GroupSeparator splits the groups column. Defaults to "|".
	GroupSeparator string
}

// NewCSVConnector returns a connector over the given roster file.
func NewCSVConnector(path string) *CSVConnector {
	return &CSVConnector{Path: path, GroupSeparator: "|"}
}

var csvCoreColumns = map[string]bool{
	"email": true, "firstname": true, "lastname": true,
	"username": true, "domain": true, "type": true, "groups": true,
}

// LoadUsersAndGroups implements Connector. The whole file is read on every
// call so each run sees a fresh snapshot.
func (c *CSVConnector) LoadUsersAndGroups(ctx context.Context, groups []string, extendedAttributes []string, allUsers bool) ([]User, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("opening directory roster: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading directory roster %s: %w", c.Path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("directory roster %s has no header row", c.Path)
	}

	header := make([]string, len(records[0]))
	for i, col := range records[0] {
		header[i] = strings.ToLower(strings.TrimSpace(col))
	}

	wanted := map[string]bool{}
	for _, g := range groups {
		wanted[strings.ToLower(g)] = true
	}

	sep := c.GroupSeparator
	if sep == "" {
		sep = "|"
	}

	var users []User
	for _, record := range records[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u := User{Attributes: map[string]string{}}
		for i, value := range record {
			if i >= len(header) {
				break
			}
			value = strings.TrimSpace(value)
			switch header[i] {
			case "email":
				u.Email = value
			case "firstname":
				u.FirstName = value
			case "lastname":
				u.LastName = value
			case "username":
				u.Username = value
			case "domain":
				u.Domain = value
			case "type":
				u.IdentityType = value
			case "groups":
				if value != "" {
					for _, g := range strings.Split(value, sep) {
						if g = strings.TrimSpace(g); g != "" {
							u.Groups = append(u.Groups, g)
						}
					}
				}
			default:
				u.Attributes[header[i]] = value
			}
		}
		if !allUsers && !memberOfAny(u.Groups, wanted) {
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

func memberOfAny(groups []string, wanted map[string]bool) bool {
	for _, g := range groups {
		if wanted[strings.ToLower(g)] {
			return true
		}
	}
	return false
}
