// Package config loads and validates the sync configuration file plus the
// per-connector sub-configuration files it references. Every validation
// problem here is fatal: nothing runs on a half-parsed configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/inkwell-tools/signsync/pkg/engine/mapping"
	"github.com/inkwell-tools/signsync/pkg/sign"
)

// Identity source types accepted in identity_source.type.
const (
	SourceCSV = "csv"
)

// File is the root sync configuration document.
type File struct {
	// SignOrgs maps org name -> sign connector sub-config path. The
	// "primary" org is required.
	SignOrgs map[string]string `yaml:"sign_orgs"`

	IdentitySource struct {
		Type      string `yaml:"type"`
		Connector string `yaml:"connector"`
	} `yaml:"identity_source"`

	UserSync struct {
		CreateNewUsers          bool   `yaml:"create_new_users"`
		DeactivateSignOnlyUsers bool   `yaml:"deactivate_sign_only_users"`
		UserFilter              string `yaml:"user_filter"`
	} `yaml:"user_sync"`

	UserGroups        []string           `yaml:"user_groups"`
	EntitlementGroups []string           `yaml:"entitlement_groups"`
	IdentityTypes     []string           `yaml:"identity_types"`
	AdminRoles        []mapping.RoleRule `yaml:"admin_roles"`

	Logging struct {
		ConsoleLogLevel string `yaml:"console_log_level"`
		JSON            bool   `yaml:"json"`
	} `yaml:"logging"`

	InvocationDefaults struct {
		// Users selects the directory read scope: "mapped" (members of
		// referenced groups only) or "all".
		Users string `yaml:"users"`
	} `yaml:"invocation_defaults"`

	// baseDir resolves relative sub-config paths.
	baseDir string
}

// DirectorySource is the identity_source connector sub-configuration.
type DirectorySource struct {
	FilePath string `yaml:"file_path"`
}

// LoadFile reads and validates the root configuration document.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Load(data, filepath.Dir(path))
}

// Load parses a root configuration document. baseDir anchors relative
// sub-config paths.
func Load(data []byte, baseDir string) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	f.baseDir = baseDir
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	if len(f.SignOrgs) == 0 {
		return fmt.Errorf("sign_orgs must list at least one org")
	}
	if _, ok := f.SignOrgs[mapping.DefaultOrg]; !ok {
		return fmt.Errorf("sign_orgs must include the %q org", mapping.DefaultOrg)
	}
	switch f.IdentitySource.Type {
	case SourceCSV:
	case "":
		return fmt.Errorf("identity_source.type is required")
	default:
		return fmt.Errorf("unknown identity_source.type %q", f.IdentitySource.Type)
	}
	if f.IdentitySource.Connector == "" {
		return fmt.Errorf("identity_source.connector is required")
	}
	switch f.InvocationDefaults.Users {
	case "", "mapped", "all":
	default:
		return fmt.Errorf("invocation_defaults.users must be \"mapped\" or \"all\", got %q", f.InvocationDefaults.Users)
	}
	switch f.Logging.ConsoleLogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.console_log_level %q is not valid", f.Logging.ConsoleLogLevel)
	}
	return nil
}

// Users returns the effective directory read scope, defaulting to "mapped".
func (f *File) Users() string {
	if f.InvocationDefaults.Users == "" {
		return "mapped"
	}
	return f.InvocationDefaults.Users
}

func (f *File) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(f.baseDir, path)
}

// SignConfig loads the connector sub-config for one org.
func (f *File) SignConfig(org string) (sign.ClientConfig, error) {
	path, ok := f.SignOrgs[org]
	if !ok {
		return sign.ClientConfig{}, fmt.Errorf("org %q is not listed in sign_orgs", org)
	}
	var cfg sign.ClientConfig
	if err := loadSub(f.resolve(path), &cfg); err != nil {
		return sign.ClientConfig{}, fmt.Errorf("sign connector for org %q: %w", org, err)
	}
	return cfg, nil
}

// DirectoryConfig loads the identity source connector sub-config.
func (f *File) DirectoryConfig() (DirectorySource, error) {
	var src DirectorySource
	if err := loadSub(f.resolve(f.IdentitySource.Connector), &src); err != nil {
		return DirectorySource{}, fmt.Errorf("identity source connector: %w", err)
	}
	if src.FilePath == "" {
		return DirectorySource{}, fmt.Errorf("identity source connector: file_path is required")
	}
	if !filepath.IsAbs(src.FilePath) {
		src.FilePath = filepath.Join(f.baseDir, src.FilePath)
	}
	return src, nil
}

func loadSub(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
