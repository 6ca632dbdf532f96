package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-tools/signsync/pkg/directory"
	"github.com/inkwell-tools/signsync/pkg/engine/mapping"
	"github.com/inkwell-tools/signsync/pkg/engine/report"
	"github.com/inkwell-tools/signsync/pkg/sign"
)

type fakeDirectory struct {
	users []directory.User
	err   error
}

func (f *fakeDirectory) LoadUsersAndGroups(ctx context.Context, groups []string, extendedAttributes []string, allUsers bool) ([]directory.User, error) {
	return f.users, f.err
}

type fakeConnector struct {
	groups   []string
	groupIDs map[string]string
	users    map[string]sign.User

	createdGroups []string
	inserted      []sign.Profile
	updated       map[string]sign.Profile
	deactivated   []string

	listGroupsErr error
	listUsersErr  error
	insertErr     map[string]error
	updateErr     map[string]error
	deactivateErr map[string]error
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		groups:   []string{"Default Group"},
		groupIDs: map[string]string{"default group": "g-default"},
		users:    map[string]sign.User{},
		updated:  map[string]sign.Profile{},
	}
}

func (f *fakeConnector) ListGroups(ctx context.Context) ([]string, error) {
	if f.listGroupsErr != nil {
		return nil, f.listGroupsErr
	}
	return append([]string(nil), f.groups...), nil
}

func (f *fakeConnector) CreateGroup(ctx context.Context, name string) (string, error) {
	f.createdGroups = append(f.createdGroups, name)
	id := "g-" + strings.ToLower(name)
	f.groups = append(f.groups, name)
	f.groupIDs[strings.ToLower(name)] = id
	return id, nil
}

func (f *fakeConnector) GroupID(name string) (string, error) {
	if id, ok := f.groupIDs[strings.ToLower(name)]; ok {
		return id, nil
	}
	return "", fmt.Errorf("unknown group %q", name)
}

func (f *fakeConnector) ListUsers(ctx context.Context) (map[string]sign.User, error) {
	if f.listUsersErr != nil {
		return nil, f.listUsersErr
	}
	out := make(map[string]sign.User, len(f.users))
	for k, v := range f.users {
		out[k] = v
	}
	return out, nil
}

func (f *fakeConnector) InsertUser(ctx context.Context, profile sign.Profile) error {
	if err := f.insertErr[profile.Email]; err != nil {
		return err
	}
	f.inserted = append(f.inserted, profile)
	return nil
}

func (f *fakeConnector) UpdateUser(ctx context.Context, userID string, profile sign.Profile) error {
	if err := f.updateErr[userID]; err != nil {
		return err
	}
	f.updated[userID] = profile
	return nil
}

func (f *fakeConnector) DeactivateUser(ctx context.Context, userID string, status sign.StatusUpdate) error {
	if err := f.deactivateErr[userID]; err != nil {
		return err
	}
	f.deactivated = append(f.deactivated, userID)
	return nil
}

func (f *fakeConnector) mutationCount() int {
	return len(f.createdGroups) + len(f.inserted) + len(f.updated) + len(f.deactivated)
}

func baseOptions() Options {
	return Options{
		UserGroups:        []string{"Legal", "Finance"},
		EntitlementGroups: []string{"Sign Users"},
		CreateNewUsers:    true,
	}
}

func dirUser(email string, groups ...string) directory.User {
	return directory.User{
		Email:        email,
		FirstName:    "First",
		LastName:     "Last",
		Username:     email,
		IdentityType: "federatedID",
		Groups:       groups,
	}
}

func newEngine(t *testing.T, opts Options, conns map[string]sign.Connector) *Engine {
	t.Helper()
	e, err := New(opts, conns)
	require.NoError(t, err)
	return e
}

func actions(l *report.Log) map[report.Action]int {
	return l.Summary()
}

func TestAssignmentGroupFirstMatchWins(t *testing.T) {
	conn := newFakeConnector()
	e := newEngine(t, baseOptions(), map[string]sign.Connector{"primary": conn})

	// In groups Legal and Everyone with candidates [legal, finance]:
	// assignment group is legal.
	u := dirUser("jane@example.com", "Legal", "Everyone", "Sign Users")
	assert.Equal(t, "legal", e.assignmentGroup("primary", u))

	// No candidate matches: fall back to the default group.
	u = dirUser("bob@example.com", "Sales", "Sign Users")
	assert.Equal(t, DefaultGroupName, e.assignmentGroup("primary", u))

	// Orgs with no configured candidates always fall back.
	assert.Equal(t, DefaultGroupName, e.assignmentGroup("acme", u))
}

func TestResolveNewRoles(t *testing.T) {
	opts := baseOptions()
	opts.AdminRoles = []mapping.RoleRule{
		{SignRole: "ACCOUNT_ADMIN", DirectoryGroups: []string{"Legal"}},
		{SignRole: "GROUP_ADMIN", DirectoryGroups: []string{"Legal", "Ops"}},
	}
	e := newEngine(t, opts, map[string]sign.Connector{"primary": newFakeConnector()})

	roles := e.resolveNewRoles("primary", dirUser("a@x.com", "LEGAL"))
	assert.Equal(t, []string{"ACCOUNT_ADMIN", "GROUP_ADMIN"}, roles)

	// Union across groups, deduplicated.
	roles = e.resolveNewRoles("primary", dirUser("a@x.com", "Legal", "Ops"))
	assert.Equal(t, []string{"ACCOUNT_ADMIN", "GROUP_ADMIN"}, roles)

	// No mapped group: the sentinel role, alone.
	roles = e.resolveNewRoles("primary", dirUser("a@x.com", "Sales"))
	assert.Equal(t, []string{DefaultRole}, roles)
}

func TestShouldSyncGate(t *testing.T) {
	opts := baseOptions()
	opts.IdentityTypes = []string{"federatedID"}
	e := newEngine(t, opts, map[string]sign.Connector{"primary": newFakeConnector()})

	// Entitled and allowed type.
	assert.True(t, e.shouldSync("primary", dirUser("a@x.com", "Sign Users")))

	// No entitlement intersection, even with a matching type.
	assert.False(t, e.shouldSync("primary", dirUser("a@x.com", "Sales")))

	// Entitled but wrong identity type.
	u := dirUser("a@x.com", "Sign Users")
	u.IdentityType = "enterpriseID"
	assert.False(t, e.shouldSync("primary", u))

	// Entitlement matching is case-insensitive.
	assert.True(t, e.shouldSync("primary", dirUser("a@x.com", "SIGN USERS")))
}

func TestShouldSyncUserFilter(t *testing.T) {
	opts := baseOptions()
	opts.UserFilter = `attrs["country"] == "US"`
	e := newEngine(t, opts, map[string]sign.Connector{"primary": newFakeConnector()})

	u := dirUser("a@x.com", "Sign Users")
	u.Attributes = map[string]string{"country": "US"}
	assert.True(t, e.shouldSync("primary", u))

	u.Attributes["country"] = "CA"
	assert.False(t, e.shouldSync("primary", u))
}

func TestRolesMatch(t *testing.T) {
	assert.True(t, rolesMatch([]string{"A", "B"}, sign.Roles{"B", "A"}))
	assert.True(t, rolesMatch([]string{"NORMAL_USER"}, sign.Roles{"NORMAL_USER"}))
	assert.False(t, rolesMatch([]string{"A"}, sign.Roles{"A", "B"}))
	assert.False(t, rolesMatch([]string{"A", "B"}, sign.Roles{"A", "C"}))
}

func TestRunCreatesMissingUserAndGroup(t *testing.T) {
	conn := newFakeConnector()
	e := newEngine(t, baseOptions(), map[string]sign.Connector{"primary": conn})

	dir := &fakeDirectory{users: []directory.User{
		dirUser("jane@example.com", "Legal", "Sign Users"),
	}}
	require.NoError(t, e.Run(context.Background(), dir))

	// Both configured candidates were provisioned (additive only).
	assert.Equal(t, []string{"legal", "finance"}, conn.createdGroups)

	require.Len(t, conn.inserted, 1)
	profile := conn.inserted[0]
	assert.Equal(t, "jane@example.com", profile.Email)
	assert.Equal(t, "g-legal", profile.GroupID)
	assert.Equal(t, []string{"NORMAL_USER"}, profile.Roles)

	summary := actions(e.Report())
	assert.Equal(t, 1, summary[report.ActionCreate])
	assert.Equal(t, 0, summary[report.ActionError])
}

func TestRunCreationDisabledIsQuietNoop(t *testing.T) {
	conn := newFakeConnector()
	conn.groups = []string{"Default Group", "Legal", "Finance"}
	conn.groupIDs["legal"] = "g-legal"
	conn.groupIDs["finance"] = "g-finance"

	opts := baseOptions()
	opts.CreateNewUsers = false
	e := newEngine(t, opts, map[string]sign.Connector{"primary": conn})

	dir := &fakeDirectory{users: []directory.User{
		dirUser("jane@example.com", "Legal", "Sign Users"),
	}}
	require.NoError(t, e.Run(context.Background(), dir))

	assert.Empty(t, conn.inserted)
	assert.Empty(t, conn.updated)
	assert.Equal(t, 0, actions(e.Report())[report.ActionError])
}

func TestRunSkipsWhenNothingChanged(t *testing.T) {
	conn := newFakeConnector()
	conn.groups = []string{"Default Group", "Legal", "Finance"}
	conn.groupIDs["legal"] = "g-legal"
	conn.groupIDs["finance"] = "g-finance"
	conn.users["jane@example.com"] = sign.User{
		UserID: "u1", Email: "jane@example.com", FirstName: "Jane", LastName: "Doe",
		Group: "Finance", Roles: sign.Roles{"NORMAL_USER"}, Status: sign.StatusActive,
	}

	e := newEngine(t, baseOptions(), map[string]sign.Connector{"primary": conn})
	dir := &fakeDirectory{users: []directory.User{
		dirUser("jane@example.com", "Finance", "Sign Users"),
	}}
	require.NoError(t, e.Run(context.Background(), dir))

	// Resolution matches current state: zero mutating calls, one skip.
	assert.Equal(t, 0, conn.mutationCount())
	summary := actions(e.Report())
	assert.Equal(t, 1, summary[report.ActionSkip])
	assert.Equal(t, 0, summary[report.ActionUpdate])
}

func TestRunUpdatesKeepSignSideNames(t *testing.T) {
	conn := newFakeConnector()
	conn.groups = []string{"Default Group", "Legal", "Finance"}
	conn.groupIDs["legal"] = "g-legal"
	conn.groupIDs["finance"] = "g-finance"
	conn.users["jane@example.com"] = sign.User{
		UserID: "u1", Email: "jane@example.com", FirstName: "Janet", LastName: "Original",
		Group: "Finance", Roles: sign.Roles{"NORMAL_USER"},
	}

	opts := baseOptions()
	opts.AdminRoles = []mapping.RoleRule{{SignRole: "ACCOUNT_ADMIN", DirectoryGroups: []string{"Legal"}}}
	e := newEngine(t, opts, map[string]sign.Connector{"primary": conn})

	dir := &fakeDirectory{users: []directory.User{
		dirUser("jane@example.com", "Legal", "Sign Users"),
	}}
	require.NoError(t, e.Run(context.Background(), dir))

	profile, ok := conn.updated["u1"]
	require.True(t, ok)
	// The update profile carries the sign record's names, not the
	// directory record's.
	assert.Equal(t, "Janet", profile.FirstName)
	assert.Equal(t, "Original", profile.LastName)
	assert.Equal(t, "g-legal", profile.GroupID)
	assert.Equal(t, []string{"ACCOUNT_ADMIN"}, profile.Roles)
}

func TestEmailMatchCaseAsymmetry(t *testing.T) {
	// The update-pass lookup is case-sensitive while the sweep folds case.
	// Both behaviors are intentional and pinned here.
	conn := newFakeConnector()
	conn.groups = []string{"Default Group", "Legal", "Finance"}
	conn.groupIDs["legal"] = "g-legal"
	conn.groupIDs["finance"] = "g-finance"
	conn.users["Jane@Example.com"] = sign.User{
		UserID: "u1", Email: "Jane@Example.com", Group: "Legal", Roles: sign.Roles{"NORMAL_USER"},
	}

	opts := baseOptions()
	opts.DeactivateSignOnlyUsers = true
	e := newEngine(t, opts, map[string]sign.Connector{"primary": conn})

	dir := &fakeDirectory{users: []directory.User{
		dirUser("jane@example.com", "Legal", "Sign Users"),
	}}
	require.NoError(t, e.Run(context.Background(), dir))

	// Update pass missed the differently-cased roster entry and created a
	// new account.
	require.Len(t, conn.inserted, 1)
	assert.Equal(t, "jane@example.com", conn.inserted[0].Email)

	// Sweep still protected the existing record: lower-cased emails match.
	assert.Empty(t, conn.deactivated)
}

func TestDeactivationSweep(t *testing.T) {
	conn := newFakeConnector()
	conn.users["a@x.com"] = sign.User{UserID: "u-a", Email: "a@x.com", Group: "Default Group", Roles: sign.Roles{"NORMAL_USER"}}
	conn.users["b@x.com"] = sign.User{UserID: "u-b", Email: "b@x.com", Group: "Default Group", Roles: sign.Roles{"NORMAL_USER"}}

	opts := Options{
		EntitlementGroups:       []string{"Sign Users"},
		DeactivateSignOnlyUsers: true,
	}
	e := newEngine(t, opts, map[string]sign.Connector{"primary": conn})

	dir := &fakeDirectory{users: []directory.User{
		dirUser("a@x.com", "Sign Users"),
	}}
	require.NoError(t, e.Run(context.Background(), dir))

	// Only the roster entry absent from the directory is deactivated.
	assert.Equal(t, []string{"u-b"}, conn.deactivated)
}

func TestSweepDisabledByDefault(t *testing.T) {
	conn := newFakeConnector()
	conn.users["b@x.com"] = sign.User{UserID: "u-b", Email: "b@x.com"}

	e := newEngine(t, Options{EntitlementGroups: []string{"Sign Users"}}, map[string]sign.Connector{"primary": conn})
	require.NoError(t, e.Run(context.Background(), &fakeDirectory{}))
	assert.Empty(t, conn.deactivated)
}

func TestTestModeIssuesNoMutatingCalls(t *testing.T) {
	conn := newFakeConnector()
	conn.users["old@x.com"] = sign.User{UserID: "u-old", Email: "old@x.com"}

	opts := baseOptions()
	opts.TestMode = true
	opts.DeactivateSignOnlyUsers = true
	e := newEngine(t, opts, map[string]sign.Connector{"primary": conn})

	dir := &fakeDirectory{users: []directory.User{
		dirUser("jane@example.com", "Legal", "Sign Users"),
	}}
	require.NoError(t, e.Run(context.Background(), dir))

	// Decisions were still resolved and recorded.
	summary := actions(e.Report())
	assert.Equal(t, 1, summary[report.ActionCreate])
	assert.Equal(t, 1, summary[report.ActionDeactivate])

	// But nothing was mutated.
	assert.Equal(t, 0, conn.mutationCount())
}

func TestDirectoryReadFailureIsFatal(t *testing.T) {
	conn := newFakeConnector()
	e := newEngine(t, baseOptions(), map[string]sign.Connector{"primary": conn})

	err := e.Run(context.Background(), &fakeDirectory{err: errors.New("ldap timeout")})
	require.Error(t, err)
	// Nothing ran against the org.
	assert.Equal(t, 0, conn.mutationCount())
}

func TestPerUserFailureContinuesBatch(t *testing.T) {
	conn := newFakeConnector()
	conn.groups = []string{"Default Group", "Legal", "Finance"}
	conn.groupIDs["legal"] = "g-legal"
	conn.groupIDs["finance"] = "g-finance"
	conn.insertErr = map[string]error{"bad@x.com": errors.New("api rejected")}

	e := newEngine(t, baseOptions(), map[string]sign.Connector{"primary": conn})
	dir := &fakeDirectory{users: []directory.User{
		dirUser("bad@x.com", "Legal", "Sign Users"),
		dirUser("good@x.com", "Legal", "Sign Users"),
	}}
	require.NoError(t, e.Run(context.Background(), dir))

	// The failing user is recorded and the rest of the batch proceeds.
	require.Len(t, conn.inserted, 1)
	assert.Equal(t, "good@x.com", conn.inserted[0].Email)
	assert.Equal(t, 1, actions(e.Report())[report.ActionError])
}

func TestOrgFailureDoesNotAbortOthers(t *testing.T) {
	broken := newFakeConnector()
	broken.listUsersErr = errors.New("roster unavailable")
	healthy := newFakeConnector()
	healthy.groups = []string{"Default Group", "Legal", "Finance"}
	healthy.groupIDs["legal"] = "g-legal"
	healthy.groupIDs["finance"] = "g-finance"

	opts := baseOptions()
	opts.UserGroups = []string{"acme::Legal", "acme::Finance"}
	opts.EntitlementGroups = []string{"Sign Users", "acme::Sign Users"}
	e := newEngine(t, opts, map[string]sign.Connector{
		"primary": broken,
		"acme":    healthy,
	})

	dir := &fakeDirectory{users: []directory.User{
		dirUser("jane@example.com", "Legal", "Sign Users"),
	}}
	err := e.Run(context.Background(), dir)
	require.ErrorIs(t, err, ErrPartialSync)

	// The healthy org still completed its pass.
	require.Len(t, healthy.inserted, 1)
}

func TestInvalidIdentityKeyExcludesUser(t *testing.T) {
	conn := newFakeConnector()
	e := newEngine(t, baseOptions(), map[string]sign.Connector{"primary": conn})

	// Bare username, no domain: the key cannot be built and the user is
	// dropped from the snapshot entirely.
	broken := dirUser("ghost@x.com", "Legal", "Sign Users")
	broken.Username = "ghost"
	broken.Domain = ""

	users, err := e.readDirectoryUsers(context.Background(), &fakeDirectory{users: []directory.User{
		broken,
		dirUser("jane@example.com", "Legal", "Sign Users"),
	}})
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestMissingIdentityTypeSubstitutesDefault(t *testing.T) {
	conn := newFakeConnector()
	e := newEngine(t, baseOptions(), map[string]sign.Connector{"primary": conn})

	u := dirUser("jane@example.com", "Legal", "Sign Users")
	u.IdentityType = ""
	users, err := e.readDirectoryUsers(context.Background(), &fakeDirectory{users: []directory.User{u}})
	require.NoError(t, err)
	require.Len(t, users, 1)
	for _, got := range users {
		assert.Equal(t, "federatedID", got.IdentityType)
	}
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	_, err := New(Options{AdminRoles: []mapping.RoleRule{{DirectoryGroups: []string{"Legal"}}}}, nil)
	assert.Error(t, err, "admin role without sign role")

	_, err = New(Options{UserGroups: []string{"acme::"}}, nil)
	assert.Error(t, err, "malformed group reference")

	_, err = New(Options{IdentityTypes: []string{"samlID"}}, nil)
	assert.Error(t, err, "unknown identity type")

	_, err = New(Options{UserFilter: "email =="}, nil)
	assert.Error(t, err, "invalid user filter")
}
