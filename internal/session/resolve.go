package session

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/zerohunger/zhchat/internal/config"
)

const DefaultSessionName = "main"

// ErrInvalidName is returned for names that cannot be used as a directory
// under BaseDir.
var ErrInvalidName = errors.New("invalid session name")

var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Resolve determines the active session name and validates it. Precedence:
// 1. flagOverride (--session flag)
// 2. ZHCHAT_SESSION, from the environment or a .env file
// 3. config.toml default_session
// 4. "main"
func Resolve(flagOverride string) (string, error) {
	name := flagOverride
	if name == "" {
		name = DefaultSessionName
		if cfg, err := config.LoadEffective(ConfigPath()); err == nil && cfg.DefaultSession != "" {
			name = cfg.DefaultSession
		}
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// ValidateName checks that name is lowercase alphanumeric with - or _, at
// most 64 characters, and does not start with a separator.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("%w %q: must match %s", ErrInvalidName, name, nameRegexp)
	}
	return nil
}
