// Package engine reconciles directory users, group memberships, and role
// assignments into one or more sign orgs. Each run reads a fresh directory
// snapshot and a fresh per-org sign roster, decides create/update/no-op per
// user, and optionally deactivates sign users with no directory counterpart.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/inkwell-tools/signsync/pkg/directory"
	"github.com/inkwell-tools/signsync/pkg/engine/identity"
	"github.com/inkwell-tools/signsync/pkg/engine/mapping"
	"github.com/inkwell-tools/signsync/pkg/engine/policy"
	"github.com/inkwell-tools/signsync/pkg/engine/report"
	"github.com/inkwell-tools/signsync/pkg/sign"
)

const (
	// DefaultGroupName is the assignment group used when no configured
	// candidate matches the user's directory groups.
	DefaultGroupName = "default group"

	// DefaultRole is the sentinel role assigned when no role mapping
	// matches any of the user's directory groups.
	DefaultRole = "NORMAL_USER"
)

// ErrPartialSync indicates the run completed but at least one org failed.
var ErrPartialSync = errors.New("sync completed with partial results")

// Options holds engine settings derived from the sync configuration.
type Options struct {
	UserGroups              []string
	EntitlementGroups       []string
	IdentityTypes           []string
	AdminRoles              []mapping.RoleRule
	CreateNewUsers          bool
	DeactivateSignOnlyUsers bool

	// TestMode runs the full read and resolution pipeline and records
	// every decision, but issues no mutating calls.
	TestMode bool

	// UserScope is "mapped" (read only members of referenced directory
	// groups) or "all".
	UserScope string

	// NewAccountType substitutes for directory records that carry no
	// identity type. Defaults to federated.
	NewAccountType identity.Type

	// UserFilter is an optional CEL expression gating eligibility.
	UserFilter string
}

// Engine is the reconciliation core.
type Engine struct {
	opts       Options
	logger     *slog.Logger
	tracer     trace.Tracer
	connectors map[string]sign.Connector

	assignments  mapping.AssignmentTable
	entitlements mapping.GroupSet
	roleMap      mapping.RoleTable
	allowedTypes map[identity.Type]bool
	filter       *policy.UserFilter

	// directoryGroups is the union of every directory group the
	// configuration references, used for scoped directory reads.
	directoryGroups []string

	log *report.Log
}

// Option overrides an engine default.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New parses the configuration tables and builds an engine. Any
// configuration problem is returned here, before a run starts.
func New(opts Options, connectors map[string]sign.Connector, options ...Option) (*Engine, error) {
	e := &Engine{
		opts:       opts,
		logger:     slog.Default(),
		tracer:     otel.Tracer("signsync/engine"),
		connectors: connectors,
		log:        &report.Log{},
	}
	for _, opt := range options {
		opt(e)
	}

	var err error
	if e.assignments, err = mapping.BuildAssignments(opts.UserGroups); err != nil {
		return nil, err
	}
	if e.entitlements, err = mapping.BuildGroupSet(opts.EntitlementGroups); err != nil {
		return nil, err
	}
	if e.roleMap, err = mapping.BuildRoleMap(opts.AdminRoles); err != nil {
		return nil, err
	}
	if e.filter, err = policy.Compile(opts.UserFilter); err != nil {
		return nil, err
	}

	e.allowedTypes = map[identity.Type]bool{}
	if len(opts.IdentityTypes) == 0 {
		for _, t := range identity.AllTypes {
			e.allowedTypes[t] = true
		}
	} else {
		for _, raw := range opts.IdentityTypes {
			t, ok := identity.ParseType(raw)
			if !ok {
				return nil, fmt.Errorf("identity_types: unknown identity type %q", raw)
			}
			e.allowedTypes[t] = true
		}
	}

	if e.opts.NewAccountType == "" {
		e.opts.NewAccountType = identity.Federated
	}
	e.directoryGroups = e.referencedGroups()
	return e, nil
}

// Report returns the decision log for the engine's most recent run.
func (e *Engine) Report() *report.Log {
	return e.log
}

// Run executes one reconciliation pass across every configured org.
// A directory read failure is fatal; a failed org is logged and skipped, and
// the run returns ErrPartialSync once the remaining orgs finish.
func (e *Engine) Run(ctx context.Context, dir directory.Connector) error {
	ctx, span := e.tracer.Start(ctx, "sync.run")
	defer span.End()

	users, err := e.readDirectoryUsers(ctx, dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("retrieving users from directory: %w", err)
	}
	e.logger.Info("Directory snapshot loaded", "users", len(users))

	partial := false
	for _, org := range e.orgNames() {
		if err := e.syncOrg(ctx, org, e.connectors[org], users); err != nil {
			e.logger.Error("Org sync failed", "org", org, "error", err)
			e.log.Record(report.Decision{Org: org, Action: report.ActionError, Detail: err.Error()})
			partial = true
		}
	}
	if partial {
		return ErrPartialSync
	}
	return nil
}

// readDirectoryUsers loads the snapshot and indexes it by identity key.
// Users whose key cannot be constructed are warned about and dropped; they
// take no further part in the run, including sweep protection.
func (e *Engine) readDirectoryUsers(ctx context.Context, dir directory.Connector) (map[string]directory.User, error) {
	e.logger.Debug("Building work list", "scope", e.userScope())
	allUsers := e.userScope() == "all"
	users, err := dir.LoadUsersAndGroups(ctx, e.directoryGroups, nil, allUsers)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]directory.User, len(users))
	for _, u := range users {
		idType := u.IdentityType
		if idType == "" {
			idType = string(e.opts.NewAccountType)
			e.logger.Warn("Directory user has no identity type, substituting default",
				"email", u.Email, "type", idType)
			u.IdentityType = idType
		}
		key, ok := identity.UserKey(idType, u.Username, u.Domain, u.Email)
		if !ok {
			e.logger.Warn("Ignoring directory user with invalid identity key",
				"email", u.Email, "username", u.Username, "domain", u.Domain, "type", idType)
			continue
		}
		byKey[key] = u
	}
	return byKey, nil
}

func (e *Engine) syncOrg(ctx context.Context, org string, conn sign.Connector, users map[string]directory.User) error {
	ctx, span := e.tracer.Start(ctx, "sync.org", trace.WithAttributes(
		attribute.String("org", org),
	))
	defer span.End()

	err := e.runOrg(ctx, org, conn, users)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (e *Engine) runOrg(ctx context.Context, org string, conn sign.Connector, users map[string]directory.User) error {
	if err := e.provisionGroups(ctx, org, conn); err != nil {
		return err
	}
	if err := e.updatePass(ctx, org, conn, users); err != nil {
		return err
	}
	if e.opts.DeactivateSignOnlyUsers {
		if err := e.deactivatePass(ctx, org, conn, users); err != nil {
			return err
		}
	}
	return nil
}

// provisionGroups creates every configured candidate group the org does not
// already have. Purely additive.
func (e *Engine) provisionGroups(ctx context.Context, org string, conn sign.Connector) error {
	existing, err := conn.ListGroups(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[strings.ToLower(name)] = true
	}
	for _, candidate := range e.assignments.Candidates(org) {
		if have[candidate] {
			continue
		}
		e.logger.Info("Creating new sign group", "org", org, "group", candidate)
		if e.opts.TestMode {
			continue
		}
		if _, err := conn.CreateGroup(ctx, candidate); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) updatePass(ctx context.Context, org string, conn sign.Connector, users map[string]directory.User) error {
	signUsers, err := conn.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, key := range sortedKeys(users) {
		dirUser := users[key]
		if !e.shouldSync(org, dirUser) {
			continue
		}

		assignmentGroup := e.assignmentGroup(org, dirUser)
		roles := e.resolveNewRoles(org, dirUser)

		// Existing-user lookup is case-sensitive on the email exactly as
		// the sign API reports it; the deactivation sweep folds case.
		signUser, exists := signUsers[dirUser.Email]
		if !exists {
			if e.opts.CreateNewUsers {
				e.insertNewUser(ctx, org, conn, dirUser, assignmentGroup, roles)
			}
			// Creation disabled: explicitly allowed no-op.
			continue
		}
		e.updateExistingUser(ctx, org, conn, signUser, dirUser, assignmentGroup, roles)
	}
	return nil
}

// shouldSync gates eligibility: the user must share at least one entitlement
// group with the org, carry an allowed identity type, and pass the optional
// user filter.
func (e *Engine) shouldSync(org string, u directory.User) bool {
	entitled := false
	for _, g := range u.Groups {
		if e.entitlements.Contains(org, g) {
			entitled = true
			break
		}
	}
	if !entitled {
		return false
	}
	t, ok := identity.ParseType(u.IdentityType)
	if !ok || !e.allowedTypes[t] {
		return false
	}
	admit, err := e.filter.Admit(u)
	if err != nil {
		e.logger.Warn("User filter evaluation failed, excluding user", "org", org, "email", u.Email, "error", err)
		return false
	}
	return admit
}

// assignmentGroup picks the first configured candidate present in the user's
// directory groups, falling back to the default group.
func (e *Engine) assignmentGroup(org string, u directory.User) string {
	member := make(map[string]bool, len(u.Groups))
	for _, g := range u.Groups {
		member[strings.ToLower(g)] = true
	}
	for _, candidate := range e.assignments.Candidates(org) {
		if member[candidate] {
			return candidate
		}
	}
	return DefaultGroupName
}

// resolveNewRoles unions the mapped role sets of every directory group the
// user belongs to. The result is never empty: an unmapped user gets the
// default role sentinel.
func (e *Engine) resolveNewRoles(org string, u directory.User) []string {
	set := map[string]bool{}
	for _, g := range u.Groups {
		for role := range e.roleMap.Roles(org, g) {
			set[role] = true
		}
	}
	if len(set) == 0 {
		return []string{DefaultRole}
	}
	roles := make([]string, 0, len(set))
	for role := range set {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// rolesMatch compares role sets order-independently.
func rolesMatch(resolved []string, current sign.Roles) bool {
	if len(resolved) != len(current) {
		return false
	}
	a := append([]string(nil), resolved...)
	b := append([]string(nil), current...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (e *Engine) insertNewUser(ctx context.Context, org string, conn sign.Connector, u directory.User, group string, roles []string) {
	groupID, err := e.lookupGroupID(conn, group)
	if err != nil {
		e.logger.Error("Error inserting user", "org", org, "email", u.Email, "error", err)
		e.log.Record(report.Decision{Org: org, Email: u.Email, Action: report.ActionError, Detail: err.Error()})
		return
	}
	profile := sign.Profile{
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		GroupID:   groupID,
		Roles:     roles,
	}
	e.log.Record(report.Decision{Org: org, Email: u.Email, Action: report.ActionCreate, Group: group, Roles: roles})
	if e.opts.TestMode {
		return
	}
	if err := conn.InsertUser(ctx, profile); err != nil {
		e.logger.Error("Error inserting user", "org", org, "email", u.Email, "error", err)
		e.log.Record(report.Decision{Org: org, Email: u.Email, Action: report.ActionError, Detail: err.Error()})
		return
	}
	e.logger.Info("Inserted sign user", "org", org, "email", u.Email, "group", group, "roles", roles)
}

func (e *Engine) updateExistingUser(ctx context.Context, org string, conn sign.Connector, signUser sign.User, dirUser directory.User, group string, roles []string) {
	if strings.ToLower(signUser.Group) == group && rolesMatch(roles, signUser.Roles) {
		e.logger.Debug("Skipping sign update, no updates needed", "org", org, "email", dirUser.Email)
		e.log.Record(report.Decision{Org: org, Email: dirUser.Email, Action: report.ActionSkip, Detail: "no updates needed"})
		return
	}
	groupID, err := e.lookupGroupID(conn, group)
	if err != nil {
		e.logger.Error("Error updating user", "org", org, "email", dirUser.Email, "error", err)
		e.log.Record(report.Decision{Org: org, Email: dirUser.Email, Action: report.ActionError, Detail: err.Error()})
		return
	}
	// Update keeps the sign-side name fields; only group and roles come
	// from resolution.
	profile := sign.Profile{
		Email:     signUser.Email,
		FirstName: signUser.FirstName,
		LastName:  signUser.LastName,
		GroupID:   groupID,
		Roles:     roles,
	}
	e.log.Record(report.Decision{Org: org, Email: dirUser.Email, Action: report.ActionUpdate, Group: group, Roles: roles})
	if e.opts.TestMode {
		return
	}
	if err := conn.UpdateUser(ctx, signUser.UserID, profile); err != nil {
		e.logger.Error("Error updating user", "org", org, "email", dirUser.Email, "error", err)
		e.log.Record(report.Decision{Org: org, Email: dirUser.Email, Action: report.ActionError, Detail: err.Error()})
		return
	}
	e.logger.Info("Updated sign user", "org", org, "email", dirUser.Email, "group", group, "roles", roles)
}

// lookupGroupID resolves an assignment group to its sign-side id. In test
// mode a group that was never provisioned resolves to an empty id rather
// than an error.
func (e *Engine) lookupGroupID(conn sign.Connector, group string) (string, error) {
	id, err := conn.GroupID(group)
	if err != nil && e.opts.TestMode {
		return "", nil
	}
	return id, err
}

// deactivatePass reads the org roster again, independently of the update
// pass, and deactivates every sign user whose lower-cased email is missing
// from the directory snapshot.
func (e *Engine) deactivatePass(ctx context.Context, org string, conn sign.Connector, users map[string]directory.User) error {
	signUsers, err := conn.ListUsers(ctx)
	if err != nil {
		return err
	}
	dirEmails := make(map[string]bool, len(users))
	for _, u := range users {
		dirEmails[strings.ToLower(u.Email)] = true
	}
	for _, email := range sortedKeys(signUsers) {
		signUser := signUsers[email]
		if dirEmails[strings.ToLower(signUser.Email)] {
			continue
		}
		e.log.Record(report.Decision{Org: org, Email: signUser.Email, Action: report.ActionDeactivate})
		if e.opts.TestMode {
			continue
		}
		if err := conn.DeactivateUser(ctx, signUser.UserID, sign.StatusUpdate{UserStatus: sign.StatusInactive}); err != nil {
			e.logger.Error("Error deactivating user", "org", org, "email", signUser.Email, "error", err)
			e.log.Record(report.Decision{Org: org, Email: signUser.Email, Action: report.ActionError, Detail: err.Error()})
			continue
		}
		e.logger.Info("Deactivated sign user", "org", org, "email", signUser.Email)
	}
	return nil
}

func (e *Engine) userScope() string {
	if e.opts.UserScope == "" {
		return "mapped"
	}
	return e.opts.UserScope
}

// referencedGroups unions every directory group named anywhere in the
// configuration, lower-cased, for scoped directory reads.
func (e *Engine) referencedGroups() []string {
	set := map[string]bool{}
	for _, groups := range e.assignments {
		for _, g := range groups {
			set[g] = true
		}
	}
	for _, groups := range e.entitlements {
		for g := range groups {
			set[g] = true
		}
	}
	for _, byGroup := range e.roleMap {
		for g := range byGroup {
			set[g] = true
		}
	}
	out := make([]string, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) orgNames() []string {
	return sortedKeys(e.connectors)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
