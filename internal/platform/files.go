package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// File permissions
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// Collision handling
const (
	MaxUniqueAttempts = 1000
)

var (
	// Characters invalid in file names: < > : " / \ | ? * and control
	// characters (0x00-0x1f). Windows has the most restrictive rules.
	invalidChars  = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	trailingDots  = regexp.MustCompile(`\.+$`)
	multiSpaces   = regexp.MustCompile(`\s+`)
)

// SanitizeFileName removes or replaces characters that are invalid in
// file/folder names so generated names are valid on every platform
func SanitizeFileName(name string) string {
	name = invalidChars.ReplaceAllString(name, "_")
	name = trailingDots.ReplaceAllString(name, "")
	name = multiSpaces.ReplaceAllString(name, " ")
	return strings.TrimRight(name, " ")
}

// EnsureDir creates the directory and its parents if they don't exist
func EnsureDir(dirPath string) error {
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		return os.MkdirAll(dirPath, DefaultDirPermissions)
	}
	return nil
}

// WithSuffix inserts a disambiguating " (n)" before the file extension.
// A trailing template placeholder such as ".%(ext)s" counts as the
// extension, so suffixes can be applied before the extension is known.
func WithSuffix(path string, n int) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	ext := ""
	if idx := strings.LastIndex(base, "."); idx > 0 {
		ext = base[idx:]
		base = base[:idx]
	}

	return filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, n, ext))
}

// ReservePath returns path if it is free, otherwise the first suffixed
// variant that is. The chosen variant is claimed by creating its temp file
// exclusively, so two concurrent reservations of the same path always end
// up with distinct destinations.
func ReservePath(path, tempSuffix string) (string, error) {
	for n := 0; n <= MaxUniqueAttempts; n++ {
		candidate := path
		if n > 0 {
			candidate = WithSuffix(path, n)
		}
		if _, err := os.Stat(candidate); err == nil {
			continue
		}
		f, err := os.OpenFile(candidate+tempSuffix, os.O_CREATE|os.O_EXCL|os.O_WRONLY, DefaultFilePermissions)
		if err == nil {
			f.Close()
			return candidate, nil
		}
		if !os.IsExist(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free variant of %s within %d attempts", path, MaxUniqueAttempts)
}

// GetHomeDownloadsDir returns the standard Downloads directory for the user
func GetHomeDownloadsDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, "Downloads"), nil
}
