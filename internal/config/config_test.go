package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpbridge/internal/core"
)

func TestValidate_AccumulatesAllViolations(t *testing.T) {
	raw := &RawConfig{
		LogLevel: "verbose",
		Security: SecurityPolicySpec{Profile: "paranoid"},
		McpServers: []McpServerSpec{
			{Name: "", Command: ""},
		},
	}
	err := validate(raw)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "assistant_command must be non-empty")
	assert.Contains(t, msg, "log_level must be one of")
	assert.Contains(t, msg, "security.profile must be one of")
	assert.Contains(t, msg, "mcp_servers[0].name")
	assert.Contains(t, msg, "mcp_servers[0].command")
}

func TestValidate_AcceptsMinimalValidConfig(t *testing.T) {
	raw := &RawConfig{
		AssistantCommand: "claude",
		LogLevel:         "info",
		Security:         SecurityPolicySpec{Profile: "moderate"},
	}
	assert.NoError(t, validate(raw))
}

func TestToAgentConfig_AppliesDefaults(t *testing.T) {
	raw := RawConfig{AssistantCommand: "claude", LogLevel: "info"}
	cfg := toAgentConfig(raw)

	assert.Equal(t, "claude", cfg.AssistantCommand)
	assert.Equal(t, 100_000, cfg.MaxPromptLength)
	assert.Equal(t, 256, cfg.NotificationBuffer)
	assert.Equal(t, time.Hour, cfg.SessionMaxAge)
	assert.Equal(t, 10_000, cfg.MaxHistoryMessages)
	assert.Equal(t, "127.0.0.1:8787", cfg.OpsServerAddr)
}

func TestToAgentConfig_McpServerDefaultTimeout(t *testing.T) {
	raw := RawConfig{
		AssistantCommand: "claude",
		McpServers: []McpServerSpec{
			{Name: "fs", Command: "mcp-fs"},
		},
	}
	cfg := toAgentConfig(raw)
	require.Len(t, cfg.McpServers, 1)
	assert.Equal(t, 10, cfg.McpServers[0].Protocol.TimeoutSeconds)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "claude", cfg.AssistantCommand)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, core.SecurityProfileModerate, cfg.Security.Profile)
}
