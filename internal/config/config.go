package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment string `mapstructure:"environment"`

	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`

	Workflow struct {
		// ConsensusPolicy selects the committee decision rule:
		// "unanimous" (default) or "majority".
		ConsensusPolicy string `mapstructure:"consensus_policy"`
		// SLAThresholdDays is the default age beyond which a non-terminal
		// instance is flagged as delayed.
		SLAThresholdDays int `mapstructure:"sla_threshold_days"`
		// AdminRoles are the role tags granted the administrative
		// override (cancellation, acting out of role).
		AdminRoles []string `mapstructure:"admin_roles"`
		// WebhookURL, when set, receives terminal-state and consensus
		// events; otherwise events only go to the log.
		WebhookURL string `mapstructure:"webhook_url"`
	} `mapstructure:"workflow"`

	Auth struct {
		OktaDomain    string `mapstructure:"okta_domain"`
		ClientID      string `mapstructure:"client_id"`
		ClientSecret  string `mapstructure:"client_secret"`
		RedirectURL   string `mapstructure:"redirect_url"`
		RolesClaim    string `mapstructure:"roles_claim"`
		DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	} `mapstructure:"auth"`

	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	viper.SetDefault("environment", "DEV")
	viper.SetDefault("workflow.consensus_policy", "unanimous")
	viper.SetDefault("workflow.sla_threshold_days", 7)
	viper.SetDefault("workflow.admin_roles", []string{"portal_admin"})
	viper.SetDefault("auth.roles_claim", "roles")

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine; defaults and environment variables apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)

	return &config, nil
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact. This allows users to paste the full URL from the Okta admin
// console without worrying about double prefixes.
func normalizeOktaIssuer(input string) string {
	iss := strings.TrimSpace(input)
	if strings.HasSuffix(iss, "/") {
		iss = strings.TrimRight(iss, "/")
	}
	return iss
}
