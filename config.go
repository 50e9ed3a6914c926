package rls

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// fieldNameRe validates protected field names and the session prefix.
// Both end up inside policy SQL, so anything that is not a plain SQL
// identifier is rejected at startup rather than at policy evaluation.
var fieldNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config is the process-wide configuration for row-level security. It is
// constructed and validated once at startup and passed by reference to the
// migration pipeline and the request middleware. It must not be mutated
// after Validate.
type Config struct {
	// TenantModules lists the modules whose new tables receive policies.
	// Tables created outside these modules are left untouched.
	TenantModules []string

	// Fields is the ordered list of candidate protected field names.
	// A new table is protected on the intersection of this list with its
	// columns, in this order.
	Fields []string

	// SessionPrefix namespaces the session variables consumed by policies,
	// e.g. prefix "rls" and field "tenant_id" yield "rls.tenant_id".
	// Defaults to DefaultSessionPrefix.
	SessionPrefix string

	// Bypass reports whether a request is exempt from row filtering.
	// When it returns true, every protected field is set to the All
	// wildcard and Resolver is not consulted.
	Bypass func(*http.Request) bool

	// Resolver maps a request to per-field security context values.
	// Returned fields outside Fields are dropped with a warning.
	Resolver func(*http.Request) map[string]any

	// RequireSelection makes a canceled or empty interactive field
	// selection a hard error instead of skipping the table with a warning.
	RequireSelection bool

	// UseMigrationUser indicates migrations run as a dedicated database
	// user. When set, both MigrationUser and MigrationPassword must be
	// present; a partially configured privilege state is fatal.
	UseMigrationUser  bool
	MigrationUser     string
	MigrationPassword string

	// Logger receives configuration and policy warnings.
	// Defaults to slog.Default.
	Logger *slog.Logger
}

// Default returns the safe-by-default configuration: no tenant modules, no
// protected fields, and the default session prefix. A process running on
// defaults performs no policy synthesis and no context propagation, which is
// safe but almost certainly not what the operator wants, so a warning is
// emitted.
func Default() *Config {
	slog.Warn("rls: no configuration provided, falling back to defaults")
	return &Config{SessionPrefix: DefaultSessionPrefix}
}

// Validate checks the configuration invariants. It must be called once at
// process start; a returned error means the security contract cannot be
// satisfied and the process must not start.
func (c *Config) Validate() error {
	if c == nil {
		return NewConfigError("nil config")
	}
	if c.SessionPrefix == "" {
		c.SessionPrefix = DefaultSessionPrefix
	}
	if !fieldNameRe.MatchString(c.SessionPrefix) {
		return NewConfigError("session prefix %q is not a valid identifier", c.SessionPrefix)
	}
	seen := make(map[string]struct{}, len(c.Fields))
	for _, f := range c.Fields {
		if !fieldNameRe.MatchString(f) {
			return NewConfigError("field %q is not a valid identifier", f)
		}
		if _, ok := seen[f]; ok {
			return NewConfigError("duplicate field %q", f)
		}
		seen[f] = struct{}{}
	}
	if c.UseMigrationUser && (c.MigrationUser == "" || c.MigrationPassword == "") {
		return NewConfigError("UseMigrationUser is set, but MigrationUser or MigrationPassword is missing")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// HasField reports whether name is a configured protected field.
func (c *Config) HasField(name string) bool {
	for _, f := range c.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// fileConfig is the YAML representation of the file-configurable subset of
// Config. The bypass predicate and resolver are code, not configuration, and
// must be set on the returned Config by the caller.
type fileConfig struct {
	TenantModules    []string `yaml:"tenant_modules"`
	Fields           []string `yaml:"fields"`
	SessionPrefix    string   `yaml:"session_prefix"`
	RequireSelection bool     `yaml:"require_selection"`
	MigrationUser    struct {
		Enabled  bool   `yaml:"enabled"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"migration_user"`
}

// FromFile loads and validates a configuration file.
//
// Example file:
//
//	tenant_modules: [billing, projects]
//	fields: [tenant_id, owner_id]
//	session_prefix: rls
//	migration_user:
//	  enabled: true
//	  username: migrator
//	  password: secret
func FromFile(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rls: reading config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(buf, &fc); err != nil {
		return nil, fmt.Errorf("rls: parsing config file: %w", err)
	}
	c := &Config{
		TenantModules:     fc.TenantModules,
		Fields:            fc.Fields,
		SessionPrefix:     fc.SessionPrefix,
		RequireSelection:  fc.RequireSelection,
		UseMigrationUser:  fc.MigrationUser.Enabled,
		MigrationUser:     fc.MigrationUser.Username,
		MigrationPassword: fc.MigrationUser.Password,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
