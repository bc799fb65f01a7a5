package profile

import "os"

const (
	DefaultName = "main"
	// Env selects the profile when no flag is given.
	Env = "CRM_PROFILE"
)

// Resolve determines the active profile name using precedence:
// 1. flagOverride (--profile flag)
// 2. $CRM_PROFILE
// 3. config.toml default_profile
// 4. "main"
func Resolve(flagOverride, configDefault string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv(Env); env != "" {
		return env
	}
	if configDefault != "" {
		return configDefault
	}
	return DefaultName
}
