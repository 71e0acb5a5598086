// Package locate resolves the executables of the system under test by
// role name inside a build-output directory.
package locate

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvBuildRoot names the environment variable holding the build directory.
const EnvBuildRoot = "MESON_BUILD_ROOT"

// Well-known roles.
const (
	RoleStack  = "stack"
	RoleTap    = "tap"
	RoleARPing = "arping"
	RolePing   = "ping"
)

// NotFoundError is returned when a role has no executable in the build
// directory.
type NotFoundError struct {
	Role string
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found!", e.Role)
}

// Resolver maps role names to paths under Dir.
type Resolver struct {
	Dir string
}

// New returns a Resolver for dir. An empty dir falls back to
// $MESON_BUILD_ROOT, then to the current directory.
func New(dir string) (*Resolver, error) {
	if dir == "" {
		dir = os.Getenv(EnvBuildRoot)
	}
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determining build directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving build directory: %w", err)
	}
	return &Resolver{Dir: abs}, nil
}

// Path returns the executable for role, or a *NotFoundError.
func (r *Resolver) Path(role string) (string, error) {
	path := filepath.Join(r.Dir, role)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", &NotFoundError{Role: role, Path: path}
	}
	return path, nil
}
