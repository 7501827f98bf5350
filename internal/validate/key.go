// Package validate provides cache key validation.
// Cache keys are used verbatim as filenames, so every key must name exactly
// one file inside its namespace directory.
package validate

import (
	"fmt"
	"strings"

	platformerrors "github.com/jmgilman/go/errors"
)

// maxKeyLength matches the common 255 byte filename limit.
const maxKeyLength = 255

// Key validates a cache key or namespace name.
// Returns nil if the key is safe to use as a filename, or an INVALID_INPUT
// platform error describing the violation.
func Key(key string) error {
	if strings.TrimSpace(key) == "" {
		return invalid(key, "empty key")
	}

	if len(key) > maxKeyLength {
		return invalid(key, fmt.Sprintf("key longer than %d bytes", maxKeyLength))
	}

	if key == "." || key == ".." {
		return invalid(key, "key refers to a directory")
	}

	if strings.ContainsAny(key, `/\`) {
		return invalid(key, "key contains a path separator")
	}

	// Leading dots would collide with the storage scratch directory
	if strings.HasPrefix(key, ".") {
		return invalid(key, "hidden keys not allowed")
	}

	for _, r := range key {
		if r == 0 {
			return invalid(key, "NUL byte in key")
		}
		if r < 32 || r == 127 {
			return invalid(key, fmt.Sprintf("control character U+%04X in key", r))
		}
	}

	return nil
}

func invalid(key, reason string) error {
	return platformerrors.WithContext(
		platformerrors.Newf(platformerrors.CodeInvalidInput, "invalid cache key: %s", reason),
		"key", key,
	)
}
