// Package config loads BoligPing settings from the embedded defaults, an
// optional YAML file, a .env file and the environment, in that order.
package config

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"boligping/pkg/bolig"
)

//go:embed default_config.yaml
var defaultConfigFS embed.FS

// Sources.
const (
	SourceWeb = "web"
	SourceAPI = "api"
)

// Providers.
const (
	ProviderSMTP    = "smtp"
	ProviderGmail   = "gmail"
	ProviderBrevo   = "brevo"
	ProviderConsole = "console"
)

// Bounds is an optional inclusive range in the config file.
type Bounds struct {
	Min *int `yaml:"min,omitempty"`
	Max *int `yaml:"max,omitempty"`
}

func (b Bounds) toRange() bolig.Range {
	return bolig.Range{Min: b.Min, Max: b.Max}
}

// Search holds the query criteria.
type Search struct {
	Cities        []string `yaml:"cities"`
	Price         Bounds   `yaml:"price"`
	MonthlyFee    Bounds   `yaml:"monthly_fee"`
	Rooms         Bounds   `yaml:"rooms"`
	Size          Bounds   `yaml:"size"`
	Keywords      []string `yaml:"keywords"`
	PropertyTypes []string `yaml:"property_types"`
}

// Credentials are only read from the environment.
type Credentials struct {
	GmailEmail            string
	GmailPassword         string
	GoogleCredentialsJSON string
	BrevoAPIKey           string
}

type Config struct {
	Source      string   `yaml:"source"`
	Headless    bool     `yaml:"headless"`
	Cache       bool     `yaml:"cache"`
	Journal     string   `yaml:"journal"`
	Provider    string   `yaml:"provider"`
	From        string   `yaml:"from,omitempty"`
	Recipients  []string `yaml:"recipients"`
	MetricsFile string   `yaml:"metrics_file,omitempty"`
	LogFormat   string   `yaml:"log_format"`
	Search      Search   `yaml:"search"`

	Credentials Credentials `yaml:"-"`
}

func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "boligping", "config.yaml")
}

func loadDefaults() (*Config, error) {
	data, err := defaultConfigFS.ReadFile("default_config.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading embedded config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded config: %w", err)
	}
	return &cfg, nil
}

// Load builds the configuration. An empty path means the default location,
// which may be absent; an explicit path must exist. envFile names the .env
// file to read, if present.
func Load(path, envFile string) (*Config, error) {
	cfg, err := loadDefaults()
	if err != nil {
		return nil, err
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// godotenv never overrides variables already set in the environment.
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Credentials = Credentials{
		GmailEmail:            os.Getenv("GMAIL_EMAIL"),
		GmailPassword:         os.Getenv("GMAIL_PASSWORD"),
		GoogleCredentialsJSON: os.Getenv("GOOGLE_CREDENTIALS_JSON"),
		BrevoAPIKey:           os.Getenv("BREVO_API_KEY"),
	}

	c.Source = getEnvAsString("BOLIGPING_SOURCE", c.Source)
	c.Journal = getEnvAsString("BOLIGPING_JOURNAL", c.Journal)
	c.Provider = getEnvAsString("BOLIGPING_PROVIDER", c.Provider)
	c.From = getEnvAsString("BOLIGPING_FROM", c.From)
	c.MetricsFile = getEnvAsString("BOLIGPING_METRICS_FILE", c.MetricsFile)
	c.LogFormat = getEnvAsString("BOLIGPING_LOG_FORMAT", c.LogFormat)
	if v, ok := os.LookupEnv("BOLIGPING_RECIPIENTS"); ok {
		c.Recipients = splitList(v)
	}

	var err error
	if c.Headless, err = getEnvAsBool("BOLIGPING_HEADLESS", c.Headless); err != nil {
		return err
	}
	if c.Cache, err = getEnvAsBool("BOLIGPING_CACHE", c.Cache); err != nil {
		return err
	}
	return nil
}

func getEnvAsString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %q is not a boolean", key, value)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ResolvedProvider returns the configured provider, or picks one: console
// without recipients, otherwise Brevo, Gmail API or SMTP depending on which
// credentials are present.
func (c *Config) ResolvedProvider() string {
	if c.Provider != "" {
		return c.Provider
	}
	switch {
	case len(c.Recipients) == 0:
		return ProviderConsole
	case c.Credentials.BrevoAPIKey != "":
		return ProviderBrevo
	case c.Credentials.GoogleCredentialsJSON != "":
		return ProviderGmail
	default:
		return ProviderSMTP
	}
}

// Sender returns the From address for providers that need one.
func (c *Config) Sender() string {
	if c.From != "" {
		return c.From
	}
	return c.Credentials.GmailEmail
}

// Validate reports every configuration problem found, before any network
// activity.
func (c *Config) Validate() error {
	var errs []error
	switch c.Source {
	case SourceWeb, SourceAPI:
	default:
		errs = append(errs, fmt.Errorf("source: unknown value %q (valid: web, api)", c.Source))
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log format: unknown value %q (valid: text, json)", c.LogFormat))
	}

	errs = append(errs, validateRecipients(c.Recipients)...)

	provider := c.ResolvedProvider()
	if provider != ProviderConsole && len(c.Recipients) == 0 {
		errs = append(errs, fmt.Errorf("provider %s: at least one recipient is required", provider))
	}
	switch provider {
	case ProviderConsole, ProviderGmail:
	case ProviderSMTP:
		if c.Credentials.GmailEmail == "" || c.Credentials.GmailPassword == "" {
			errs = append(errs, errors.New("provider smtp: GMAIL_EMAIL and GMAIL_PASSWORD are required"))
		}
	case ProviderBrevo:
		if c.Credentials.BrevoAPIKey == "" {
			errs = append(errs, errors.New("provider brevo: BREVO_API_KEY is required"))
		}
		if c.Sender() == "" {
			errs = append(errs, errors.New("provider brevo: a sender address (BOLIGPING_FROM or GMAIL_EMAIL) is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("provider: unknown value %q (valid: smtp, gmail, brevo, console)", provider))
	}

	if _, err := c.Query(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Query builds the validated search query.
func (c *Config) Query() (*bolig.Query, error) {
	types := make([]bolig.PropertyType, 0, len(c.Search.PropertyTypes))
	for _, name := range c.Search.PropertyTypes {
		pt, err := bolig.ParsePropertyType(name)
		if err != nil {
			return nil, err
		}
		types = append(types, pt)
	}
	return bolig.NewQuery(bolig.Query{
		Locations:     c.Search.Cities,
		Price:         c.Search.Price.toRange(),
		MonthlyFee:    c.Search.MonthlyFee.toRange(),
		Rooms:         c.Search.Rooms.toRange(),
		Size:          c.Search.Size.toRange(),
		Keywords:      c.Search.Keywords,
		PropertyTypes: types,
	})
}
