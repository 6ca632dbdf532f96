package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	cases := []struct {
		raw  string
		want Type
		ok   bool
	}{
		{"federatedID", Federated, true},
		{"FEDERATEDID", Federated, true},
		{"  enterpriseID ", Enterprise, true},
		{"businessid", Business, true},
		{"samlID", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := ParseType(c.raw)
		assert.Equal(t, c.ok, ok, "raw=%q", c.raw)
		assert.Equal(t, c.want, got, "raw=%q", c.raw)
	}
}

func TestUserKeyEmailUsernameDiscardsDomain(t *testing.T) {
	// An email-shaped username empties the domain component no matter what
	// domain the caller supplies.
	for _, domain := range []string{"", "example.com", "OTHER.ORG"} {
		key, ok := UserKey("federatedID", "Jane@Example.com", domain, "")
		require.True(t, ok)
		assert.Equal(t, "federatedID,jane@example.com,", key)
	}
}

func TestUserKeyBareUsernameRequiresDomain(t *testing.T) {
	key, ok := UserKey("enterpriseID", "jdoe", "Example.COM", "")
	require.True(t, ok)
	assert.Equal(t, "enterpriseID,jdoe,example.com", key)

	_, ok = UserKey("enterpriseID", "jdoe", "", "")
	assert.False(t, ok, "bare username with no domain must fail")
}

func TestUserKeyFallsBackToEmail(t *testing.T) {
	key, ok := UserKey("federatedID", "", "ignored.com", "User@Example.com")
	require.True(t, ok)
	assert.Equal(t, "federatedID,user@example.com,", key)
}

func TestUserKeyInvalid(t *testing.T) {
	_, ok := UserKey("", "jdoe", "example.com", "")
	assert.False(t, ok, "missing identity type")

	_, ok = UserKey("federatedID", "", "", "")
	assert.False(t, ok, "missing username and email")

	_, ok = UserKey("samlID", "jdoe", "example.com", "")
	assert.False(t, ok, "unknown identity type")
}
