package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// SanitizeName drops control characters, replaces anything outside letters,
// digits and " -_.,()" with '_' and truncates to maxLen runes.
func SanitizeName(s string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case unicode.IsLetter(r), unicode.IsDigit(r), strings.ContainsRune(" -_.,()", r):
			return r
		default:
			return '_'
		}
	}, s)
	cleaned = strings.TrimSpace(cleaned)

	if maxLen > 0 {
		if runes := []rune(cleaned); len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

// ResolveOutputDir returns dir after checking it is a clean, existing
// directory. An empty dir selects fallback, which is created if needed.
func ResolveOutputDir(dir, fallback string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		if fallback == "" {
			return "", fmt.Errorf("%w: output_dir is required", ErrInvalidRequest)
		}
		if err := os.MkdirAll(fallback, 0o755); err != nil {
			return "", fmt.Errorf("create export dir: %w", err)
		}
		return fallback, nil
	}

	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: output_dir cannot contain path traversal", ErrInvalidRequest)
		}
	}
	if filepath.Clean(dir) != dir {
		return "", fmt.Errorf("%w: output_dir must be clean path", ErrInvalidRequest)
	}

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		return "", fmt.Errorf("%w: output_dir does not exist", ErrInvalidRequest)
	case err != nil:
		return "", fmt.Errorf("%w: invalid output_dir: %v", ErrInvalidRequest, err)
	case !info.IsDir():
		return "", fmt.Errorf("%w: output_dir is not a directory", ErrInvalidRequest)
	}
	return dir, nil
}
