package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Alma deployment environments.
const (
	EnvProduction = "P"
	EnvSandbox    = "S"
)

const (
	// DefaultConfigFile is read when neither the caller nor ALMAMERGE_CONFIG names a file.
	DefaultConfigFile = "almamerge.yaml"

	// DefaultAPIBaseURL is the Alma REST API root for the EU data center.
	DefaultAPIBaseURL = "https://api-eu.hosted.exlibrisgroup.com/almaws/v1"

	// MinPasswordLength is the shortest temporary staff password accepted.
	MinPasswordLength = 12
)

// ErrUnknownZone is returned when a zone has no entry in the configuration.
var ErrUnknownZone = errors.New("unknown zone")

// Config is the complete configuration of a merge run. It is built once at
// startup and passed explicitly to the components that need it.
type Config struct {
	// Environment selects the Alma deployment: P (production) or S (sandbox)
	Environment string `yaml:"environment" validate:"oneof=P S"`

	// APIBaseURL is the root of the Alma REST API
	APIBaseURL string `yaml:"api_base_url" validate:"required,url"`

	// Zones maps a zone code (e.g. UBS) to its URLs, role scope and API keys
	Zones map[string]ZoneConfig `yaml:"zones" validate:"required,min=1,dive"`

	// ZonePatterns restricts processing to zones matching one of these globs
	ZonePatterns []string `yaml:"zone_patterns"`

	Staff   StaffConfig   `yaml:"staff"`
	Browser BrowserConfig `yaml:"browser"`
	Retry   RetryConfig   `yaml:"retry"`

	// LogDir is where run logs and summaries are written
	LogDir string `yaml:"log_dir" validate:"required"`

	// Summary enables the JSON run summary next to the log file
	Summary bool `yaml:"summary"`
}

// ZoneConfig holds the per-zone static inputs.
type ZoneConfig struct {
	// IZCode is the role scope code used for the temporary staff account
	IZCode string `yaml:"iz_code" validate:"required"`

	// URLs maps environment to the Alma UI base URL
	URLs map[string]string `yaml:"urls" validate:"required,min=1,dive,keys,oneof=P S,endkeys,url"`

	// APIKeys maps environment to the Users API key
	APIKeys map[string]string `yaml:"api_keys" validate:"omitempty,dive,keys,oneof=P S,endkeys,required"`
}

// StaffConfig controls the temporary staff accounts.
type StaffConfig struct {
	IDPrefix       string `yaml:"id_prefix" validate:"required"`
	IDDomain       string `yaml:"id_domain" validate:"required,hostname"`
	PasswordLength int    `yaml:"password_length" validate:"gte=12"`

	// TemplatePath overrides the embedded staff user template
	TemplatePath string `yaml:"template_path"`
}

// BrowserConfig controls the browser sessions.
type BrowserConfig struct {
	Headless bool `yaml:"headless"`

	// Timeout bounds every wait for an element
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`

	// SettleDelay is the pause that lets dynamic content render after
	// frame switches and menu clicks
	SettleDelay time.Duration `yaml:"settle_delay" validate:"gte=0"`

	ViewportWidth  int `yaml:"viewport_width" validate:"gte=100,lte=5000"`
	ViewportHeight int `yaml:"viewport_height" validate:"gte=100,lte=5000"`
}

// RetryConfig holds the retry budgets.
type RetryConfig struct {
	// CheckboxAttempts is the number of tries for each copy option toggle
	CheckboxAttempts int           `yaml:"checkbox_attempts" validate:"gte=1"`
	CheckboxBackoff  time.Duration `yaml:"checkbox_backoff" validate:"gte=0"`

	// SessionRebuilds is how many times a session may fail to be rebuilt
	// in a row before the rest of the zone is abandoned
	SessionRebuilds int `yaml:"session_rebuilds" validate:"gte=1"`
}

// DefaultConfig returns a configuration with every default set. Zones
// must still be supplied.
func DefaultConfig() *Config {
	return &Config{
		Environment:  EnvProduction,
		APIBaseURL:   DefaultAPIBaseURL,
		Zones:        map[string]ZoneConfig{},
		ZonePatterns: []string{"*"},
		Staff: StaffConfig{
			IDPrefix:       "automation",
			IDDomain:       "slsp.ch",
			PasswordLength: MinPasswordLength,
		},
		Browser: BrowserConfig{
			Headless:       true,
			Timeout:        30 * time.Second,
			SettleDelay:    2 * time.Second,
			ViewportWidth:  1920,
			ViewportHeight: 1080,
		},
		Retry: RetryConfig{
			CheckboxAttempts: 3,
			CheckboxBackoff:  500 * time.Millisecond,
			SessionRebuilds:  1,
		},
		LogDir:  "log",
		Summary: true,
	}
}

// Load builds the configuration with precedence:
// 1. Environment variables
// 2. ./.env (dotenv)
// 3. YAML file at path, ALMAMERGE_CONFIG, or ./almamerge.yaml
// 4. Defaults
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	explicit := path != ""
	if path == "" {
		path = os.Getenv("ALMAMERGE_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultConfigFile
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if cfg, err = Parse(data); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No config file; zones may still be missing and Validate will say so
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes a YAML document on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides configuration values from environment variables:
// ALMA_ENV, ALMAMERGE_LOG_DIR, ALMAMERGE_HEADLESS and
// ALMA_API_KEY_<ZONE>_<ENV>.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	// The file may spell the environment as "prod" or "sandbox"
	if normalized, err := NormalizeEnvironment(c.Environment); err == nil {
		c.Environment = normalized
	}
	if env := getenv("ALMA_ENV"); env != "" {
		normalized, err := NormalizeEnvironment(env)
		if err != nil {
			return err
		}
		c.Environment = normalized
	}
	if dir := getenv("ALMAMERGE_LOG_DIR"); dir != "" {
		c.LogDir = dir
	}
	if headless := getenv("ALMAMERGE_HEADLESS"); headless != "" {
		c.Browser.Headless = headless != "false" && headless != "0"
	}

	for zone, zc := range c.Zones {
		for _, env := range []string{EnvProduction, EnvSandbox} {
			key := getenv(fmt.Sprintf("ALMA_API_KEY_%s_%s", strings.ToUpper(zone), env))
			if key == "" {
				continue
			}
			if zc.APIKeys == nil {
				zc.APIKeys = map[string]string{}
			}
			zc.APIKeys[env] = key
		}
		c.Zones[zone] = zc
	}
	return nil
}

// NormalizeEnvironment maps the accepted spellings of an environment to P or S.
func NormalizeEnvironment(env string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "p", "prod", "production":
		return EnvProduction, nil
	case "s", "sandbox", "psb":
		return EnvSandbox, nil
	default:
		return "", fmt.Errorf("invalid environment: %s (must be 'P' or 'S')", env)
	}
}

// zone looks a zone up, accepting any letter case.
func (c *Config) zone(zone string) (ZoneConfig, error) {
	if zc, ok := c.Zones[zone]; ok {
		return zc, nil
	}
	for name, zc := range c.Zones {
		if strings.EqualFold(name, zone) {
			return zc, nil
		}
	}
	return ZoneConfig{}, fmt.Errorf("%w: %s", ErrUnknownZone, zone)
}

// AlmaURL returns the UI base URL of a zone in the configured environment.
func (c *Config) AlmaURL(zone string) (string, error) {
	zc, err := c.zone(zone)
	if err != nil {
		return "", err
	}
	url, ok := zc.URLs[c.Environment]
	if !ok {
		return "", fmt.Errorf("no %s URL configured for zone %s", c.Environment, zone)
	}
	return url, nil
}

// IZCode returns the role scope code of a zone.
func (c *Config) IZCode(zone string) (string, error) {
	zc, err := c.zone(zone)
	if err != nil {
		return "", err
	}
	return zc.IZCode, nil
}

// APIKey returns the Users API key of a zone in the given environment.
func (c *Config) APIKey(zone, env string) (string, error) {
	zc, err := c.zone(zone)
	if err != nil {
		return "", err
	}
	key := zc.APIKeys[env]
	if key == "" {
		return "", fmt.Errorf("no %s API key configured for zone %s", env, zone)
	}
	return key, nil
}

// ZoneNames returns the configured zones in sorted order.
func (c *Config) ZoneNames() []string {
	names := make([]string, 0, len(c.Zones))
	for name := range c.Zones {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ZoneMatcher compiles ZonePatterns. An empty pattern list matches every zone.
func (c *Config) ZoneMatcher() (func(zone string) bool, error) {
	if len(c.ZonePatterns) == 0 {
		return func(string) bool { return true }, nil
	}

	globs := make([]glob.Glob, 0, len(c.ZonePatterns))
	for _, pattern := range c.ZonePatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid zone pattern %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}

	return func(zone string) bool {
		for _, g := range globs {
			if g.Match(zone) {
				return true
			}
		}
		return false
	}, nil
}
