package core

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName is the application name used in data directory paths.
const AppName = "Leveler"

// GetDataDirectory returns the platform-specific data directory:
//   - Windows: %APPDATA%\Leveler
//   - Linux/macOS: ~/.leveler
//
// LEVELER_DATA_DIR overrides both. The directory is not created.
func GetDataDirectory() string {
	if dir, ok := lookupEnv(EnvDataDir); ok {
		return dir
	}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, AppName)
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".leveler"
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(home, "AppData", "Roaming", AppName)
	}
	return filepath.Join(home, ".leveler")
}

// EnsureDataDirectory creates dir with owner-only permissions if it doesn't exist.
func EnsureDataDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ErrDataDirectory(dir, err)
	}
	return nil
}
