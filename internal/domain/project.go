package domain

import (
	"fmt"
	"strings"
	"time"
)

const maxProjectNameLen = 80

// Project is a named collection of runs. Created implicitly by the first
// upload and immutable afterwards except for its run collection.
type Project struct {
	Name      string    `json:"project"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateProjectName enforces the URL-safe slug rules: 1..80 characters of
// [A-Za-z0-9._-], no leading dot. Names are compared case-sensitively, exact
// match. The leading-dot rule keeps slugs clear of the data root's internal
// directories and of "." / "..".
func ValidateProjectName(name string) error {
	if name == "" {
		return fmt.Errorf("project name is required")
	}
	if len(name) > maxProjectNameLen {
		return fmt.Errorf("project name too long (%d > %d)", len(name), maxProjectNameLen)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("project name must not start with a dot: %q", name)
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return fmt.Errorf("project name contains invalid character %q", c)
		}
	}
	return nil
}
