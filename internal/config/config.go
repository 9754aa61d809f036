// Package config loads credentials and the copy rule. Credentials come from
// the environment (or an optional fieldcopy.yaml) through viper; the rule
// file is read directly with yaml so it can live anywhere the flag points.
package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/fieldcopy/internal/copier"
)

// DefaultLogFile is where the run log goes unless overridden.
const DefaultLogFile = "fieldcopy.log"

// Config holds everything a run needs besides the CLI flags.
type Config struct {
	URL      string
	Email    string
	APIToken string
	LogFile  string

	Rule copier.Rule
}

// Load reads credentials from the environment and optional config file, and
// the copy rule from rulePath when given (built-in defaults otherwise).
// The returned config is validated and its rule compiled.
func Load(rulePath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("fieldcopy")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment wins over the config file.
	_ = v.BindEnv("url", "JIRA_URL")
	_ = v.BindEnv("email", "JIRA_EMAIL")
	_ = v.BindEnv("api_token", "JIRA_API_TOKEN")
	v.SetDefault("log_file", DefaultLogFile)

	if err := v.ReadInConfig(); err != nil {
		// The config file is optional; only a parse failure is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		URL:      v.GetString("url"),
		Email:    v.GetString("email"),
		APIToken: v.GetString("api_token"),
		LogFile:  v.GetString("log_file"),
		Rule:     copier.DefaultRule(),
	}

	if rulePath != "" {
		if err := loadRuleFile(rulePath, &cfg.Rule); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Rule.Compile(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadRuleFile overlays rule overrides from a yaml file onto dst. Keys the
// file omits keep their defaults.
func loadRuleFile(path string, dst *copier.Rule) error {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from the --rules flag
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return nil
}

// validate checks the credential triple before any network call is made.
func (c *Config) validate() error {
	if c.URL == "" || c.Email == "" || c.APIToken == "" {
		return fmt.Errorf("missing credentials: set JIRA_URL, JIRA_EMAIL, and JIRA_API_TOKEN")
	}
	u, err := url.Parse(c.URL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("JIRA_URL %q is not an absolute http(s) URL", c.URL)
	}
	return nil
}
