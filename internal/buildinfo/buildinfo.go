// Package buildinfo carries version data stamped in with -ldflags.
package buildinfo

import "fmt"

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
}

// String renders the build as "version (commit, builtAt)", omitting empty parts.
func String() string {
	switch {
	case Commit == "" && BuiltAt == "":
		return Version
	case BuiltAt == "":
		return fmt.Sprintf("%s (%s)", Version, Commit)
	case Commit == "":
		return fmt.Sprintf("%s (built %s)", Version, BuiltAt)
	}
	return fmt.Sprintf("%s (%s, built %s)", Version, Commit, BuiltAt)
}
