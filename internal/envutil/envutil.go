package envutil

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Environment holds the process-level settings that live outside the config file
type Environment struct {
	Mode         string `env:"BFF_FRONT_ENV" envDefault:"production"`
	OTELEndpoint string `env:"BFF_FRONT_OTEL_ENDPOINT"`
	OTELEnabled  bool   `env:"BFF_FRONT_OTEL_ENABLED" envDefault:"true"`
}

// Load parses the process environment
func Load() (Environment, error) {
	var e Environment
	if err := env.Parse(&e); err != nil {
		return Environment{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// IsDev reports whether this environment relaxes transport security
// requirements (insecure cookies for http://localhost).
func (e Environment) IsDev() bool {
	mode := strings.ToLower(e.Mode)
	return mode == "development" || mode == "dev"
}

// IsDev checks the current process environment for development mode
func IsDev() bool {
	e, err := Load()
	if err != nil {
		return false
	}
	return e.IsDev()
}
