package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

var bashStyleRegex = regexp.MustCompile(`\$\{?([A-Z_][A-Z0-9_]*)\}?`)

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	data, err := readJSON(path)
	if err != nil {
		return nil, err
	}
	return ValidateBytes(data), nil
}

// ValidateBytes validates JSON config bytes without resolving env vars
func ValidateBytes(data []byte) *ValidationResult {
	result := &ValidationResult{}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", "version field is required. Hint: Add \"version\": %q", VersionPrefix)
	} else if !strings.HasPrefix(version, VersionPrefix) {
		result.addError("version", "unsupported version '%s' - use '%s' or '%s-<variant>'", version, VersionPrefix, VersionPrefix)
	}

	validateServerStructure(rawConfig, result)
	validateEntraStructure(rawConfig, result)
	validateSessionStructure(rawConfig, result)
	validateDownstreamStructure(rawConfig, result)

	return result
}

func section(rawConfig map[string]any, name string, required bool, result *ValidationResult) map[string]any {
	value, present := rawConfig[name]
	if !present {
		if required {
			result.addError(name, "%s field is required and must be an object", name)
		}
		return nil
	}
	m, ok := value.(map[string]any)
	if !ok {
		result.addError(name, "%s must be an object", name)
		return nil
	}
	return m
}

func validateServerStructure(rawConfig map[string]any, result *ValidationResult) {
	server := section(rawConfig, "server", true, result)
	if server == nil {
		return
	}
	if _, ok := server["baseURL"]; !ok {
		result.addError("server.baseURL", "baseURL is required. Example: \"https://bff.example.com\"")
	}
	if _, ok := server["addr"]; !ok {
		result.addError("server.addr", "addr is required. Example: \":8080\" or \"0.0.0.0:8080\"")
	}
	if _, ok := server["frontendURL"]; !ok {
		result.addWarning("server.frontendURL", "frontendURL not set, defaulting to %s", DefaultFrontendURL)
	}
}

func validateEntraStructure(rawConfig map[string]any, result *ValidationResult) {
	entra := section(rawConfig, "entra", true, result)
	if entra == nil {
		return
	}

	if _, ok := entra["clientId"]; !ok {
		result.addError("entra.clientId", "clientId is required")
	}
	if secret, ok := entra["clientSecret"]; ok {
		if err := validateEnvVarReference(secret, "clientSecret", "entra.clientSecret"); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	} else {
		result.addError("entra.clientSecret", "clientSecret is required for the browser sign-in flow")
	}

	provider, _ := entra["provider"].(string)
	switch ProviderKind(provider) {
	case "", ProviderAzure:
		_, hasTenant := entra["tenantId"]
		_, hasDomain := entra["tenantDomain"]
		if !hasTenant && !hasDomain {
			result.addError("entra.tenantId", "tenantId or tenantDomain is required for the azure provider")
		}
	case ProviderOIDC:
		_, hasDiscovery := entra["discoveryUrl"]
		_, hasAuth := entra["authorizationUrl"]
		_, hasToken := entra["tokenUrl"]
		if !hasDiscovery && (!hasAuth || !hasToken) {
			result.addError("entra", "oidc provider needs discoveryUrl or both authorizationUrl and tokenUrl")
		}
	default:
		result.addError("entra.provider", "invalid provider '%s' - must be 'azure' or 'oidc'", provider)
	}

	_, hasBase := entra["nativeAuthBaseUrl"]
	_, hasSub := entra["tenantSubdomain"]
	if !hasBase && !hasSub {
		result.addError("entra.nativeAuthBaseUrl", "nativeAuthBaseUrl or tenantSubdomain is required. Example: \"https://contoso.ciamlogin.com/contoso.onmicrosoft.com\"")
	}
	if _, ok := entra["nativeAuthClientId"]; !ok {
		result.addWarning("entra.nativeAuthClientId", "nativeAuthClientId not set; native sign-up will use clientId, which must allow public client flows")
	}
	if _, ok := entra["apiScope"]; !ok {
		result.addWarning("entra.apiScope", "apiScope not set; downstream calls will only carry the sign-in token")
	}
}

func validateSessionStructure(rawConfig map[string]any, result *ValidationResult) {
	session := section(rawConfig, "session", true, result)
	if session == nil {
		return
	}

	if key, ok := session["encryptionKey"]; ok {
		if err := validateEnvVarReference(key, "encryptionKey", "session.encryptionKey"); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	} else {
		result.addError("session.encryptionKey", "encryptionKey is required. Generate with: openssl rand -base64 32")
	}

	ttl := parseRawDuration(session, "ttl", "session.ttl", result)
	cleanup := parseRawDuration(session, "cleanupInterval", "session.cleanupInterval", result)
	if ttl > 0 && cleanup > ttl {
		result.addWarning("session", "cleanupInterval (%s) is longer than ttl (%s). Expired sessions will remain in storage until cleanup runs.", cleanup, ttl)
	}

	storage, _ := session["storage"].(string)
	switch StorageKind(storage) {
	case "", StorageMemory:
		result.addWarning("session.storage", "memory storage loses sessions on restart and is not shared between replicas")
	case StorageRedis:
		redis, _ := session["redis"].(map[string]any)
		if _, ok := redis["addr"]; !ok {
			result.addError("session.redis.addr", "redis.addr is required when using redis storage")
		}
		if password, ok := redis["password"]; ok {
			if err := validateEnvVarReference(password, "password", "session.redis.password"); err != nil {
				result.Errors = append(result.Errors, *err)
			}
		}
	case StorageFirestore:
		firestore, _ := session["firestore"].(map[string]any)
		if _, ok := firestore["project"]; !ok {
			result.addError("session.firestore.project", "firestore.project is required when using firestore storage")
		}
	default:
		result.addError("session.storage", "invalid storage '%s' - must be 'memory', 'redis' or 'firestore'", storage)
	}
}

func validateDownstreamStructure(rawConfig map[string]any, result *ValidationResult) {
	downstream := section(rawConfig, "downstream", false, result)
	if downstream == nil {
		result.addWarning("downstream", "no downstream routes configured; the BFF will only serve /auth endpoints")
		return
	}
	parseRawDuration(downstream, "timeout", "downstream.timeout", result)

	routes, ok := downstream["routes"].([]any)
	if !ok {
		if _, present := downstream["routes"]; present {
			result.addError("downstream.routes", "routes must be an array")
		}
		return
	}
	for i, item := range routes {
		path := fmt.Sprintf("downstream.routes[%d]", i)
		route, ok := item.(map[string]any)
		if !ok {
			result.addError(path, "route must be an object")
			continue
		}
		if prefix, _ := route["prefix"].(string); !strings.HasPrefix(prefix, "/") {
			result.addError(path+".prefix", "prefix is required and must start with /. Example: \"/api/\"")
		}
		if _, ok := route["target"]; !ok {
			result.addError(path+".target", "target is required. Example: \"https://api.internal:7001\"")
		}
		if allowed, present := route["allowedPaths"]; present {
			list, ok := allowed.([]any)
			if !ok {
				result.addError(path+".allowedPaths", "allowedPaths must be an array")
			} else if len(list) == 0 {
				result.addWarning(path+".allowedPaths", "empty allowedPaths denies every request on this route")
			}
		}
	}
}

func parseRawDuration(m map[string]any, key, path string, result *ValidationResult) time.Duration {
	value, ok := m[key]
	if !ok {
		return 0
	}
	s, ok := value.(string)
	if !ok {
		result.addError(path, "%s must be a duration string like \"8h\"", key)
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		result.addError(path, "invalid duration '%s': %v", s, err)
		return 0
	}
	return d
}

// validateEnvVarReference validates that a field uses proper env var reference format
func validateEnvVarReference(value any, fieldName, path string) *ValidationError {
	switch v := value.(type) {
	case string:
		if matches := bashStyleRegex.FindStringSubmatch(v); len(matches) > 1 {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", v, matches[1]),
			}
		}
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must use environment variable reference {\"$env\": \"YOUR_ENV_VAR\"} instead of plain text. Hint: This keeps secrets out of config files", fieldName),
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; !hasEnv {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("%s must use {\"$env\": \"YOUR_ENV_VAR\"} format", fieldName),
			}
		}
		return nil
	default:
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must be an environment variable reference {\"$env\": \"YOUR_ENV_VAR\"}, not %T", fieldName, value),
		}
	}
}

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllStringSubmatch(v, -1) {
			result.addWarning(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead. Hint: JSON syntax prevents accidental shell expansion in scripts/CI", match[0], match[1])
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
