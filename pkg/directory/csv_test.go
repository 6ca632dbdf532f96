package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleRoster = `email,firstname,lastname,username,domain,type,groups,country
jane@example.com,Jane,Doe,jane@example.com,,federatedID,Legal|Everyone,US
bob@example.com,Bob,Ray,bob,example.com,enterpriseID,Sales,CA
eve@example.com,Eve,Lee,eve@example.com,,federatedID,,US
`

func TestCSVConnectorAllUsers(t *testing.T) {
	conn := NewCSVConnector(writeRoster(t, sampleRoster))
	users, err := conn.LoadUsersAndGroups(context.Background(), nil, nil, true)
	require.NoError(t, err)
	require.Len(t, users, 3)

	jane := users[0]
	assert.Equal(t, "jane@example.com", jane.Email)
	assert.Equal(t, "Jane", jane.FirstName)
	assert.Equal(t, []string{"Legal", "Everyone"}, jane.Groups)
	assert.Equal(t, "US", jane.Attributes["country"])

	// Empty groups column yields no memberships.
	assert.Empty(t, users[2].Groups)
}

func TestCSVConnectorGroupFilter(t *testing.T) {
	conn := NewCSVConnector(writeRoster(t, sampleRoster))
	users, err := conn.LoadUsersAndGroups(context.Background(), []string{"legal"}, nil, false)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "jane@example.com", users[0].Email)
}

func TestCSVConnectorMissingFile(t *testing.T) {
	conn := NewCSVConnector(filepath.Join(t.TempDir(), "missing.csv"))
	_, err := conn.LoadUsersAndGroups(context.Background(), nil, nil, true)
	assert.Error(t, err)
}
