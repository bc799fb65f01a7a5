package app

import (
	"fmt"

	"github.com/Xfuse1/whatsapp-crm/internal/config"
	"github.com/Xfuse1/whatsapp-crm/internal/profile"
)

// EnvFile is read from the working directory before the config.
const EnvFile = ".env"

// Resolve loads .env and the config file, applies the environment and
// picks the profile. profileFlag wins over every other source.
func Resolve(profileFlag string) (Params, error) {
	if err := config.LoadEnvFile(EnvFile); err != nil {
		return Params{}, fmt.Errorf("load %s: %w", EnvFile, err)
	}
	cfg, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		return Params{}, fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Params{}, fmt.Errorf("invalid config: %w", err)
	}

	name := profile.Resolve(profileFlag, cfg.DefaultProfile)
	if err := profile.ValidateName(name); err != nil {
		return Params{}, err
	}
	return Params{Profile: name, Config: cfg}, nil
}
