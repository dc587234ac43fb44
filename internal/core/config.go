// Package core holds the types shared across the bridge's subsystems:
// the validated configuration value, the security-policy profile, the
// error taxonomy, and content-block shapes. Kept dependency-free of the
// rest of the tree (mirrors the teacher's internal/agentctl/types
// pattern of breaking import cycles with a small shared package).
package core

import "time"

// SecurityProfile names a security posture. Caps are resolved from it
// by ResolveSecurityCaps.
type SecurityProfile string

const (
	SecurityProfileStrict     SecurityProfile = "strict"
	SecurityProfileModerate   SecurityProfile = "moderate"
	SecurityProfilePermissive SecurityProfile = "permissive"
)

// SecurityConfig is the operator-facing security policy (spec §3, §6.4).
type SecurityConfig struct {
	Profile              SecurityProfile
	AllowedFilePatterns   []string
	ForbiddenPaths        []string
	RequirePermissionFor  []string
	BoundaryRoots         []string
}

// McpProtocolConfig is per-server MCP protocol tuning (spec §6.4).
type McpProtocolConfig struct {
	Version        string
	TimeoutSeconds int
	MaxRetries     int
}

// McpServerDescriptor names one external MCP server to connect to.
type McpServerDescriptor struct {
	Name     string
	Command  string
	Args     []string
	Protocol McpProtocolConfig
}

// AgentConfig is the validated configuration value the core consumes
// (spec §6.4): everything needed to run the bridge, with loading and
// validation performed entirely outside this package.
type AgentConfig struct {
	AssistantCommand string
	AssistantArgs    []string
	StreamingFormat  string
	Port             int
	LogLevel         string

	Security SecurityConfig

	McpServers []McpServerDescriptor

	MaxPromptLength    int
	NotificationBuffer int

	SessionMaxAge      time.Duration
	MaxHistoryMessages int
	CleanupInterval    time.Duration

	WorkDir string

	OpsServerEnabled bool
	OpsServerAddr    string
}

// SecurityCaps are the numeric limits a resolved SecurityProfile implies
// (spec §3's "numeric caps" of a named profile).
type SecurityCaps struct {
	MaxBase64Size         int64
	MaxTotalContentSize   int64
	MaxContentArrayLength int
	MaxURILength          int
	PerRequestBudget      int64
	AllowedSchemes        map[string]bool
	BlockedURIPatterns    []string
	SSRFProtection        bool
	ContentSniffing       bool
	Sanitization          bool
	MaliciousPatternCheck bool
	ProcessingTimeout     time.Duration
}

// defaultBlockedURIPatterns are the URI regexes every SSRF-protecting
// profile rejects regardless of scheme: cloud metadata endpoints and
// userinfo-smuggled hosts.
var defaultBlockedURIPatterns = []string{
	`(?i)^[a-z][a-z0-9+.-]*://[^/]*@`,
	`(?i)metadata\.google\.internal`,
	`169\.254\.169\.254`,
}

// ResolveSecurityCaps maps a named profile to its numeric caps (spec §4.2).
func ResolveSecurityCaps(profile SecurityProfile) SecurityCaps {
	switch profile {
	case SecurityProfileStrict:
		return SecurityCaps{
			MaxBase64Size:         5 * 1024 * 1024,
			MaxTotalContentSize:   10 * 1024 * 1024,
			MaxContentArrayLength: 20,
			MaxURILength:          2048,
			PerRequestBudget:      10 * 1024 * 1024,
			AllowedSchemes:        map[string]bool{"https": true},
			BlockedURIPatterns:    defaultBlockedURIPatterns,
			SSRFProtection:        true,
			ContentSniffing:       true,
			Sanitization:          true,
			MaliciousPatternCheck: true,
			ProcessingTimeout:     10 * time.Second,
		}
	case SecurityProfilePermissive:
		return SecurityCaps{
			MaxBase64Size:         50 * 1024 * 1024,
			MaxTotalContentSize:   100 * 1024 * 1024,
			MaxContentArrayLength: 200,
			MaxURILength:          8192,
			PerRequestBudget:      100 * 1024 * 1024,
			AllowedSchemes:        map[string]bool{"https": true, "http": true, "file": true, "data": true, "ftp": true},
			SSRFProtection:        false,
			ContentSniffing:       false,
			Sanitization:          false,
			MaliciousPatternCheck: false,
			ProcessingTimeout:     30 * time.Second,
		}
	default: // Moderate
		return SecurityCaps{
			MaxBase64Size:         20 * 1024 * 1024,
			MaxTotalContentSize:   50 * 1024 * 1024,
			MaxContentArrayLength: 50,
			MaxURILength:          4096,
			PerRequestBudget:      50 * 1024 * 1024,
			AllowedSchemes:        map[string]bool{"https": true, "http": true, "file": true},
			BlockedURIPatterns:    defaultBlockedURIPatterns,
			SSRFProtection:        true,
			ContentSniffing:       true,
			Sanitization:          true,
			MaliciousPatternCheck: true,
			ProcessingTimeout:     30 * time.Second,
		}
	}
}
