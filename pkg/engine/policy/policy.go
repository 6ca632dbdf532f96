// Package policy compiles the optional user_filter CEL expression into an
// extra eligibility gate evaluated per directory user.
package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"

	"github.com/inkwell-tools/signsync/pkg/directory"
)

// UserFilter holds one compiled filter expression. A nil *UserFilter admits
// every user.
type UserFilter struct {
	expr    string
	program cel.Program
}

// Compile builds a UserFilter from a CEL expression over the variables
// email, username, domain, identity_type, groups and attrs. An empty
// expression returns (nil, nil). Compilation failures are configuration
// errors and abort startup.
func Compile(expr string) (*UserFilter, error) {
	if expr == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("email", decls.String),
			decls.NewVar("username", decls.String),
			decls.NewVar("domain", decls.String),
			decls.NewVar("identity_type", decls.String),
			decls.NewVar("groups", decls.NewListType(decls.String)),
			decls.NewVar("attrs", decls.NewMapType(decls.String, decls.String)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("user_filter %q: %w", expr, issues.Err())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("user_filter %q: %w", expr, err)
	}
	return &UserFilter{expr: expr, program: program}, nil
}

// Admit evaluates the filter for one user. Evaluation errors exclude the
// user and are returned so the caller can log them.
func (f *UserFilter) Admit(user directory.User) (bool, error) {
	if f == nil {
		return true, nil
	}
	attrs := user.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	out, _, err := f.program.Eval(map[string]any{
		"email":         user.Email,
		"username":      user.Username,
		"domain":        user.Domain,
		"identity_type": user.IdentityType,
		"groups":        user.Groups,
		"attrs":         attrs,
	})
	if err != nil {
		return false, fmt.Errorf("evaluating user_filter %q: %w", f.expr, err)
	}
	match, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("user_filter %q: expression must yield a boolean", f.expr)
	}
	return match, nil
}
