package engine

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeliveryConfig is the declarative delivery policy loaded from YAML.
// Values support environment variable expansion in the form ${VAR} or
// ${VAR:default}.
type DeliveryConfig struct {
	// SupportedCampaignTypes advertised to the mixer; campaigns of
	// other types are never returned for this client.
	SupportedCampaignTypes []int `yaml:"supportedCampaignTypes"`

	// TooltipsEnabled toggles the tooltip dispatcher.
	TooltipsEnabled bool `yaml:"tooltipsEnabled"`

	// Dispatcher bounds the display-permission retry policy. All
	// delays are whole seconds; zero means the component default.
	Dispatcher struct {
		MaxPermissionRetries    uint64 `yaml:"maxPermissionRetries"`
		PermissionRetryBaseSecs int    `yaml:"permissionRetryBaseSeconds"`
		PermissionRetryCapSecs  int    `yaml:"permissionRetryCapSeconds"`
	} `yaml:"dispatcher"`

	// Polling tunes the campaign list poll schedule, in whole seconds.
	Polling struct {
		InitialDelaySecs     int `yaml:"initialDelaySeconds"`
		ErrorBackoffBaseSecs int `yaml:"errorBackoffBaseSeconds"`
		ErrorBackoffCapSecs  int `yaml:"errorBackoffCapSeconds"`
		JitterWindowSecs     int `yaml:"jitterWindowSeconds"`
		ThrottleWindowSecs   int `yaml:"throttleWindowSeconds"`
	} `yaml:"polling"`
}

// LoadDeliveryConfig loads and validates the delivery policy file.
func LoadDeliveryConfig(path string) (*DeliveryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read delivery config %s: %w", path, err)
	}

	expanded := expandEnvVars(string(data))

	var cfg DeliveryConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse delivery config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid delivery config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the loaded policy for nonsense values.
func (c *DeliveryConfig) Validate() error {
	if len(c.SupportedCampaignTypes) == 0 {
		return fmt.Errorf("supportedCampaignTypes must not be empty")
	}
	for _, t := range c.SupportedCampaignTypes {
		if t <= 0 {
			return fmt.Errorf("invalid campaign type %d in supportedCampaignTypes", t)
		}
	}
	if c.Dispatcher.PermissionRetryBaseSecs < 0 {
		return fmt.Errorf("permissionRetryBaseSeconds must be non-negative")
	}
	if c.Polling.ErrorBackoffCapSecs > 0 && c.Polling.ErrorBackoffBaseSecs > c.Polling.ErrorBackoffCapSecs {
		return fmt.Errorf("errorBackoffBaseSeconds exceeds errorBackoffCapSeconds")
	}
	return nil
}

// expandEnvVars expands ${VAR} and ${VAR:default} references.
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		parts := strings.SplitN(key, ":", 2)
		varName := parts[0]
		defaultValue := ""
		if len(parts) == 2 {
			defaultValue = parts[1]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}
