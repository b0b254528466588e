package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

const appDirName = "walrusdb"

// GetDataDir resolves the base directory for all local state. WALRUSDB_DIR
// wins, then the XDG data home, and finally ~/.local/share.
func GetDataDir() string {
	if explicit := os.Getenv("WALRUSDB_DIR"); explicit != "" {
		return explicit
	}

	xdg.Reload()

	dataHome := xdg.DataHome
	if dataHome == "" {
		home := xdg.Home
		if home == "" {
			var err error
			home, err = os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), appDirName)
			}
		}
		dataHome = filepath.Join(home, ".local", "share")
	}

	return filepath.Join(dataHome, appDirName)
}

// GetIndexPath returns the SQLite file holding the blob metadata index and the
// document version ledger.
func GetIndexPath() string {
	return filepath.Join(GetDataDir(), "index.db")
}

// GetObjectsDir returns the directory used by the filesystem remote backend.
func GetObjectsDir() string {
	return filepath.Join(GetDataDir(), "objects")
}

// GetConfigPath returns the YAML configuration file location.
func GetConfigPath() string {
	if explicit := os.Getenv("WALRUSDB_CONFIG"); explicit != "" {
		return explicit
	}
	return filepath.Join(GetDataDir(), "config.yaml")
}

// GetLedgerPath returns the schema/chunk ledger file for a named database.
func GetLedgerPath(database string) string {
	return filepath.Join(GetDataDir(), EncodeDatabaseName(database)+"-meta.db")
}

// GetMirrorPath returns the local mirror file for a named database.
func GetMirrorPath(database string) string {
	return filepath.Join(GetDataDir(), EncodeDatabaseName(database)+"-data.db")
}

// EncodeDatabaseName sanitizes database names so they can be used as file names.
func EncodeDatabaseName(name string) string {
	replacer := strings.NewReplacer("/", "-", "\\", "-", ".", "-", " ", "-")
	return replacer.Replace(name)
}
