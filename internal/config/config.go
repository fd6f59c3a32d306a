package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	StatusPolicyPermissive  = "permissive"
	StatusPolicyForwardOnly = "forward_only"

	AdminRole = "admin"
)

// Config models loanops.yml.
type Config struct {
	Org struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"org"`
	Server   ServerConfig    `yaml:"server"`
	Auth     AuthConfig      `yaml:"auth"`
	Logging  LoggingConfig   `yaml:"logging"`
	Cache    CacheConfig     `yaml:"cache"`
	Tasks    TasksConfig     `yaml:"tasks"`
	RBAC     RBACConfig      `yaml:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	BasePath    string   `yaml:"base_path"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type AuthConfig struct {
	AllowLegacyActorHeader bool `yaml:"allow_legacy_actor_header"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CacheConfig configures the optional Redis tree cache. An empty RedisAddr disables it.
type CacheConfig struct {
	RedisAddr  string `yaml:"redis_addr"`
	Prefix     string `yaml:"prefix"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type TasksConfig struct {
	StatusPolicy            string `yaml:"status_policy"`
	AssignerCanUpdateStatus *bool  `yaml:"assigner_can_update_status"`
}

// AssignerMayUpdateStatus defaults to true when unset.
func (t TasksConfig) AssignerMayUpdateStatus() bool {
	return t.AssignerCanUpdateStatus == nil || *t.AssignerCanUpdateStatus
}

type RBACConfig struct {
	Roles           map[string]RBACRole `yaml:"roles"`
	DefaultRole     string              `yaml:"default_role"`
	BootstrapAdmins []string            `yaml:"bootstrap_admins"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
	Inherits    []string `yaml:"inherits"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with loanops config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Org.ID) == "" {
		return fmt.Errorf("config.org.id is required")
	}
	if bp := c.Server.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch c.Tasks.StatusPolicy {
	case "", StatusPolicyPermissive, StatusPolicyForwardOnly:
	default:
		return fmt.Errorf("config.tasks.status_policy must be %s or %s", StatusPolicyPermissive, StatusPolicyForwardOnly)
	}
	if c.Logging.Level != "" {
		if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("config.logging.level: %w", err)
		}
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.logging.format must be text or json")
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("config.cache.ttl_seconds must not be negative")
	}
	if len(c.RBAC.Roles) == 0 {
		return fmt.Errorf("config.rbac.roles is required")
	}
	if _, ok := c.RBAC.Roles[AdminRole]; !ok {
		return fmt.Errorf("config.rbac.roles must include %s", AdminRole)
	}
	for roleID, role := range c.RBAC.Roles {
		if strings.TrimSpace(roleID) == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		if len(role.Permissions) == 0 && len(role.Inherits) == 0 {
			return fmt.Errorf("role %s grants nothing", roleID)
		}
		for _, perm := range role.Permissions {
			if strings.TrimSpace(perm) == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
		for _, parent := range role.Inherits {
			if _, ok := c.RBAC.Roles[parent]; !ok {
				return fmt.Errorf("role %s inherits unknown role %s", roleID, parent)
			}
			if parent == roleID {
				return fmt.Errorf("role %s inherits itself", roleID)
			}
		}
	}
	if d := c.RBAC.DefaultRole; d != "" {
		if _, ok := c.RBAC.Roles[d]; !ok {
			return fmt.Errorf("config.rbac.default_role references unknown role %s", d)
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// RoleIDs returns the configured role ids in sorted order.
func (c *Config) RoleIDs() []string {
	ids := make([]string, 0, len(c.RBAC.Roles))
	for id := range c.RBAC.Roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StatusPolicy returns the effective task status policy.
func (c *Config) StatusPolicy() string {
	if c.Tasks.StatusPolicy == "" {
		return StatusPolicyPermissive
	}
	return c.Tasks.StatusPolicy
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "loanops.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(orgID string) string {
	return fmt.Sprintf(defaultTemplate, orgID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an organisation.
func Default(orgID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(orgID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `org:
  id: %s
  name: Default Org

server:
  addr: 127.0.0.1:8080
  base_path: /api
  cors_origins: []

auth:
  allow_legacy_actor_header: false

logging:
  level: info
  format: text

cache:
  redis_addr: ""
  prefix: "loanops:"
  ttl_seconds: 300

tasks:
  status_policy: permissive
  assigner_can_update_status: true

rbac:
  default_role: staff
  bootstrap_admins: []
  roles:
    admin:
      description: "Full access"
      permissions: ["*"]
    hr:
      description: "Maintains the user directory and reporting lines"
      permissions: [hierarchy.manage, hierarchy.read, user.manage]
      inherits: [staff]
    manager:
      description: "Line manager"
      permissions: [hierarchy.read]
      inherits: [staff]
    staff:
      description: "Creates and works on tasks"
      permissions: [task.create, task.read]
    auditor:
      description: "Read-only access to the audit trail"
      permissions: [events.read, hierarchy.read, task.read]
`
