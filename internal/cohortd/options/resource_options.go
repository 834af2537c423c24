package options

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
)

// PersonaOptions locates the persona definitions.
type PersonaOptions struct {
	Dir      string        `json:"dir"      mapstructure:"dir"`
	Watch    bool          `json:"watch"    mapstructure:"watch"`
	Debounce time.Duration `json:"debounce" mapstructure:"debounce"`
}

func NewPersonaOptions() *PersonaOptions {
	return &PersonaOptions{
		Dir:      "conf/personas",
		Watch:    true,
		Debounce: 500 * time.Millisecond,
	}
}

func (o *PersonaOptions) Validate() []error {
	if o.Dir == "" {
		return []error{fmt.Errorf("--personas.dir is required")}
	}
	return nil
}

func (o *PersonaOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Dir, "personas.dir", o.Dir, "Directory holding one YAML or JSON file per persona.")
	fs.BoolVar(&o.Watch, "personas.watch", o.Watch, "Reload personas when their files change.")
	fs.DurationVar(&o.Debounce, "personas.debounce", o.Debounce, "Quiet period before a changed file is reloaded.")
}

// ToolOptions configures the builtin sandbox and external MCP servers.
type ToolOptions struct {
	SandboxRoot   string `json:"sandbox-root"    mapstructure:"sandbox-root"`
	MCPConfigFile string `json:"mcp-config-file" mapstructure:"mcp-config-file"`
}

func NewToolOptions() *ToolOptions {
	return &ToolOptions{
		SandboxRoot:   "data/workspace",
		MCPConfigFile: "conf/mcp.json",
	}
}

func (o *ToolOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.SandboxRoot, "tools.sandbox-root", o.SandboxRoot,
		"Directory the file tools may read. Empty disables them.")
	fs.StringVar(&o.MCPConfigFile, "tools.mcp-config-file", o.MCPConfigFile,
		"Path to an mcp.json listing external tool servers. A missing file is skipped.")
}

const (
	StoreBoltDB   = "boltdb"
	StoreInMemory = "inmemory"
)

// StoreOptions selects where tasks, events and batch jobs are kept.
type StoreOptions struct {
	Type       string `json:"type"        mapstructure:"type"`
	BoltDBPath string `json:"boltdb-path" mapstructure:"boltdb-path"`
}

func NewStoreOptions() *StoreOptions {
	return &StoreOptions{
		Type:       StoreBoltDB,
		BoltDBPath: "data/cohort.db",
	}
}

func (o *StoreOptions) Validate() []error {
	var errs []error
	switch o.Type {
	case StoreBoltDB:
		if o.BoltDBPath == "" {
			errs = append(errs, fmt.Errorf("--store.boltdb-path is required for the boltdb store"))
		}
	case StoreInMemory:
	default:
		errs = append(errs, fmt.Errorf("invalid store type %q, must be 'boltdb' or 'inmemory'", o.Type))
	}
	return errs
}

func (o *StoreOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Type, "store.type", o.Type, "Task store backend: 'boltdb' or 'inmemory'.")
	fs.StringVar(&o.BoltDBPath, "store.boltdb-path", o.BoltDBPath, "Path of the BoltDB file.")
}

// LedgerOptions selects the cost ledger backend.
type LedgerOptions struct {
	Driver string `json:"driver" mapstructure:"driver"`
	Path   string `json:"path"   mapstructure:"path"`
}

func NewLedgerOptions() *LedgerOptions {
	return &LedgerOptions{
		Driver: "sqlite",
		Path:   "data/ledger.db",
	}
}

func (o *LedgerOptions) Validate() []error {
	var errs []error
	switch o.Driver {
	case "sqlite":
		if o.Path == "" {
			errs = append(errs, fmt.Errorf("--ledger.path is required for the sqlite ledger"))
		}
	case "inmemory":
	default:
		errs = append(errs, fmt.Errorf("invalid ledger driver %q, must be 'sqlite' or 'inmemory'", o.Driver))
	}
	return errs
}

func (o *LedgerOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Driver, "ledger.driver", o.Driver, "Cost ledger backend: 'sqlite' or 'inmemory'.")
	fs.StringVar(&o.Path, "ledger.path", o.Path, "Path of the sqlite ledger database.")
}

// EventOptions configures the task event bus and its NATS mirror.
type EventOptions struct {
	BufferSize    int    `json:"buffer-size"    mapstructure:"buffer-size"`
	NATSURL       string `json:"nats-url"       mapstructure:"nats-url"`
	SubjectPrefix string `json:"subject-prefix" mapstructure:"subject-prefix"`
}

func NewEventOptions() *EventOptions {
	return &EventOptions{
		BufferSize:    100,
		SubjectPrefix: "cohort.events",
	}
}

func (o *EventOptions) AddFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.BufferSize, "events.buffer-size", o.BufferSize, "Events buffered per subscriber before drops.")
	fs.StringVar(&o.NATSURL, "events.nats-url", o.NATSURL, "Mirror every task event to this NATS server. Empty disables.")
	fs.StringVar(&o.SubjectPrefix, "events.subject-prefix", o.SubjectPrefix, "NATS subject prefix; the task id is appended.")
}

// TokenEnv is read when no token is configured.
const TokenEnv = "COHORT_API_TOKEN"

// AuthOptions guards the HTTP API with a bearer token.
type AuthOptions struct {
	Enabled    bool   `json:"enabled"     mapstructure:"enabled"`
	Token      string `json:"-"           mapstructure:"token"`
	AllowLocal bool   `json:"allow-local" mapstructure:"allow-local"`
}

func NewAuthOptions() *AuthOptions {
	return &AuthOptions{AllowLocal: true}
}

// Complete falls back to the token environment variable.
func (o *AuthOptions) Complete() {
	if o.Token == "" {
		o.Token = os.Getenv(TokenEnv)
	}
}

func (o *AuthOptions) Validate() []error {
	if o.Enabled && o.Token == "" {
		return []error{fmt.Errorf("--auth.token or %s is required when auth is enabled", TokenEnv)}
	}
	return nil
}

func (o *AuthOptions) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.Enabled, "auth.enabled", o.Enabled, "Require a bearer token on API requests.")
	fs.StringVar(&o.Token, "auth.token", o.Token, "Expected bearer token. Defaults to $"+TokenEnv+".")
	fs.BoolVar(&o.AllowLocal, "auth.allow-local", o.AllowLocal, "Let loopback clients skip the token check.")
}
