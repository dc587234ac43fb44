// Package config is the external loader spec.md §6.4 treats as out of
// core scope: it reads environment/YAML into a validated AgentConfig
// value using viper, the way the teacher's internal/common/config does,
// and hands that value to the core. The core package never imports viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kandev/acpbridge/internal/core"
)

// McpServerSpec describes one external MCP server to connect to at startup.
type McpServerSpec struct {
	Name    string   `mapstructure:"name"`
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Version string   `mapstructure:"version"`
	Timeout int      `mapstructure:"timeout_seconds"`
	Retries int      `mapstructure:"max_retries"`
}

// SecurityPolicySpec mirrors spec §3's named security profile.
type SecurityPolicySpec struct {
	Profile             string   `mapstructure:"profile"` // strict | moderate | permissive
	AllowedFilePatterns []string `mapstructure:"allowed_file_patterns"`
	ForbiddenPaths      []string `mapstructure:"forbidden_paths"`
	RequirePermissionFor []string `mapstructure:"require_permission_for"`
}

// RawConfig is the structured value spec §6.4 describes, as loaded by viper.
type RawConfig struct {
	AssistantModel     string              `mapstructure:"assistant_model"`
	AssistantCommand   string              `mapstructure:"assistant_command"`
	StreamingFormat    string              `mapstructure:"streaming_format"`
	Port               int                 `mapstructure:"port"`
	LogLevel           string              `mapstructure:"log_level"`
	LogFormat          string              `mapstructure:"log_format"`
	Security           SecurityPolicySpec  `mapstructure:"security"`
	McpServers         []McpServerSpec     `mapstructure:"mcp_servers"`
	MaxPromptLength    int                 `mapstructure:"max_prompt_length"`
	NotificationBuffer int                 `mapstructure:"notification_buffer_size"`
	SessionMaxAgeSecs  int                 `mapstructure:"session_max_age_seconds"`
	MaxHistoryMessages int                 `mapstructure:"max_history_messages"`
	CleanupIntervalSecs int                `mapstructure:"cleanup_interval_seconds"`
	WorkDir            string              `mapstructure:"work_dir"`
	OpsServerEnabled   bool                `mapstructure:"ops_server_enabled"`
	OpsServerAddr      string              `mapstructure:"ops_server_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("assistant_command", "claude")
	v.SetDefault("streaming_format", "stream-json")
	v.SetDefault("log_level", "info")
	v.SetDefault("security.profile", "moderate")
	v.SetDefault("max_prompt_length", 100_000)
	v.SetDefault("notification_buffer_size", 256)
	v.SetDefault("session_max_age_seconds", 3600)
	v.SetDefault("max_history_messages", 10_000)
	v.SetDefault("cleanup_interval_seconds", 300)
	v.SetDefault("ops_server_enabled", false)
	v.SetDefault("ops_server_addr", "127.0.0.1:8787")
}

// Load reads configuration from environment variables prefixed ACPBRIDGE_
// and an optional YAML file, validates it, and returns the core's
// AgentConfig value.
func Load(configPath string) (core.AgentConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ACPBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("acpbridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/acpbridge")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return core.AgentConfig{}, fmt.Errorf("config: read: %w", err)
		}
	}

	var raw RawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return core.AgentConfig{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validate(&raw); err != nil {
		return core.AgentConfig{}, err
	}

	return toAgentConfig(raw), nil
}

func validate(c *RawConfig) error {
	var problems []string

	if strings.TrimSpace(c.AssistantModel) == "" && strings.TrimSpace(c.AssistantCommand) == "" {
		problems = append(problems, "assistant_command must be non-empty")
	}
	switch c.LogLevel {
	case "error", "warn", "info", "debug", "trace":
	default:
		problems = append(problems, fmt.Sprintf("log_level must be one of error,warn,info,debug,trace, got %q", c.LogLevel))
	}
	for i, m := range c.McpServers {
		if strings.TrimSpace(m.Name) == "" {
			problems = append(problems, fmt.Sprintf("mcp_servers[%d].name must be non-empty", i))
		}
		if strings.TrimSpace(m.Command) == "" {
			problems = append(problems, fmt.Sprintf("mcp_servers[%d].command must be non-empty", i))
		}
	}
	switch c.Security.Profile {
	case "strict", "moderate", "permissive", "":
	default:
		problems = append(problems, fmt.Sprintf("security.profile must be one of strict,moderate,permissive, got %q", c.Security.Profile))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: invalid: %s", strings.Join(problems, "; "))
	}
	return nil
}

func toAgentConfig(raw RawConfig) core.AgentConfig {
	servers := make([]core.McpServerDescriptor, 0, len(raw.McpServers))
	for _, m := range raw.McpServers {
		servers = append(servers, core.McpServerDescriptor{
			Name:    m.Name,
			Command: m.Command,
			Args:    m.Args,
			Protocol: core.McpProtocolConfig{
				Version:        m.Version,
				TimeoutSeconds: defaultInt(m.Timeout, 10),
				MaxRetries:     m.Retries,
			},
		})
	}

	profile := core.SecurityProfileModerate
	switch raw.Security.Profile {
	case "strict":
		profile = core.SecurityProfileStrict
	case "permissive":
		profile = core.SecurityProfilePermissive
	}

	return core.AgentConfig{
		AssistantCommand:    defaultStr(raw.AssistantCommand, raw.AssistantModel),
		AssistantArgs:       nil,
		StreamingFormat:     raw.StreamingFormat,
		Port:                raw.Port,
		LogLevel:            raw.LogLevel,
		Security: core.SecurityConfig{
			Profile:              profile,
			AllowedFilePatterns:  raw.Security.AllowedFilePatterns,
			ForbiddenPaths:       raw.Security.ForbiddenPaths,
			RequirePermissionFor: raw.Security.RequirePermissionFor,
		},
		McpServers:         servers,
		MaxPromptLength:    defaultInt(raw.MaxPromptLength, 100_000),
		NotificationBuffer: defaultInt(raw.NotificationBuffer, 256),
		SessionMaxAge:      time.Duration(defaultInt(raw.SessionMaxAgeSecs, 3600)) * time.Second,
		MaxHistoryMessages: defaultInt(raw.MaxHistoryMessages, 10_000),
		CleanupInterval:    time.Duration(defaultInt(raw.CleanupIntervalSecs, 300)) * time.Second,
		WorkDir:            raw.WorkDir,
		OpsServerEnabled:   raw.OpsServerEnabled,
		OpsServerAddr:      defaultStr(raw.OpsServerAddr, "127.0.0.1:8787"),
	}
}

func defaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func defaultStr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
