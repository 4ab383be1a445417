package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hasIssue(issues []ValidationError, path, contains string) bool {
	for _, issue := range issues {
		if issue.Path == path && strings.Contains(issue.Message, contains) {
			return true
		}
	}
	return false
}

func TestValidateFileValid(t *testing.T) {
	result, err := ValidateFile(writeFile(t, "config.json", minimalJSON))
	require.NoError(t, err)
	assert.True(t, result.IsValid(), "errors: %+v", result.Errors)
	assert.True(t, hasIssue(result.Warnings, "session.storage", "memory storage"))
	assert.True(t, hasIssue(result.Warnings, "downstream", "no downstream routes"))
}

func TestValidateFileDoesNotResolveEnv(t *testing.T) {
	// the referenced variables are deliberately unset
	result := ValidateBytes([]byte(minimalJSON))
	assert.True(t, result.IsValid(), "errors: %+v", result.Errors)
}

func TestValidateBytes(t *testing.T) {
	tests := []struct {
		name     string
		config   string
		errPath  string
		errText  string
		warnPath string
		warnText string
	}{
		{
			name:    "invalid json",
			config:  `{`,
			errPath: "",
			errText: "invalid JSON",
		},
		{
			name:    "missing version",
			config:  `{}`,
			errPath: "version",
			errText: "version field is required",
		},
		{
			name:    "missing server",
			config:  `{"version": "v0.0.1-DEV_EDITION"}`,
			errPath: "server",
			errText: "server field is required",
		},
		{
			name:    "plain client secret",
			config:  `{"entra": {"clientSecret": "abc"}}`,
			errPath: "entra.clientSecret",
			errText: "must use environment variable reference",
		},
		{
			name:     "bash style secret",
			config:   `{"entra": {"clientSecret": "$ENTRA_SECRET"}}`,
			errPath:  "entra.clientSecret",
			errText:  `use {"$env": "ENTRA_SECRET"}`,
			warnPath: "entra.clientSecret",
			warnText: "bash-style syntax",
		},
		{
			name:    "oidc without endpoints",
			config:  `{"entra": {"provider": "oidc"}}`,
			errPath: "entra",
			errText: "discoveryUrl or both",
		},
		{
			name:    "unknown provider",
			config:  `{"entra": {"provider": "okta"}}`,
			errPath: "entra.provider",
			errText: "invalid provider",
		},
		{
			name:    "missing native auth",
			config:  `{"entra": {"tenantId": "t"}}`,
			errPath: "entra.nativeAuthBaseUrl",
			errText: "nativeAuthBaseUrl or tenantSubdomain is required",
		},
		{
			name:    "missing encryption key",
			config:  `{"session": {}}`,
			errPath: "session.encryptionKey",
			errText: "encryptionKey is required",
		},
		{
			name:    "redis without addr",
			config:  `{"session": {"storage": "redis", "redis": {}}}`,
			errPath: "session.redis.addr",
			errText: "redis.addr is required",
		},
		{
			name:    "inline redis password",
			config:  `{"session": {"storage": "redis", "redis": {"addr": "r:6379", "password": "pw"}}}`,
			errPath: "session.redis.password",
			errText: "must use environment variable reference",
		},
		{
			name:    "firestore without project",
			config:  `{"session": {"storage": "firestore"}}`,
			errPath: "session.firestore.project",
			errText: "firestore.project is required",
		},
		{
			name:    "bad ttl",
			config:  `{"session": {"ttl": "soon"}}`,
			errPath: "session.ttl",
			errText: "invalid duration",
		},
		{
			name:     "cleanup longer than ttl",
			config:   `{"session": {"ttl": "1h", "cleanupInterval": "2h"}}`,
			warnPath: "session",
			warnText: "cleanupInterval (2h0m0s) is longer than ttl (1h0m0s)",
		},
		{
			name:    "route without target",
			config:  `{"downstream": {"routes": [{"prefix": "/api/"}]}}`,
			errPath: "downstream.routes[0].target",
			errText: "target is required",
		},
		{
			name:    "route with relative prefix",
			config:  `{"downstream": {"routes": [{"prefix": "api", "target": "https://a"}]}}`,
			errPath: "downstream.routes[0].prefix",
			errText: "must start with /",
		},
		{
			name:     "empty allowlist",
			config:   `{"downstream": {"routes": [{"prefix": "/api/", "target": "https://a", "allowedPaths": []}]}}`,
			warnPath: "downstream.routes[0].allowedPaths",
			warnText: "denies every request",
		},
		{
			name:     "bash style in nested string",
			config:   `{"downstream": {"routes": [{"prefix": "/api/", "target": "${API_URL}"}]}}`,
			warnPath: "downstream.routes[0].target",
			warnText: `{"$env": "API_URL"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateBytes([]byte(tt.config))
			if tt.errText != "" {
				assert.False(t, result.IsValid())
				assert.True(t, hasIssue(result.Errors, tt.errPath, tt.errText), "errors: %+v", result.Errors)
			}
			if tt.warnText != "" {
				assert.True(t, hasIssue(result.Warnings, tt.warnPath, tt.warnText), "warnings: %+v", result.Warnings)
			}
		})
	}
}

func TestValidateFileYAML(t *testing.T) {
	path := writeFile(t, "config.yml", "version: v0.0.1-DEV_EDITION\nserver:\n  addr: \":8080\"\n")
	result, err := ValidateFile(path)
	require.NoError(t, err)
	assert.True(t, hasIssue(result.Errors, "server.baseURL", "baseURL is required"))
}

func TestValidateFileMissing(t *testing.T) {
	_, err := ValidateFile("/nonexistent/config.json")
	assert.Error(t, err)
}
