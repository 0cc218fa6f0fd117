package helpers

import (
	"os"
	"path/filepath"
	"sync"
)

// DataDirEnv overrides the default data directory.
const DataDirEnv = "CHECKERLS_DIR"

var (
	dataDirMu   sync.RWMutex
	dataDirPath = ""
)

// SetDataDirPath overrides the data directory for the rest of the process.
// An empty path restores the default lookup.
func SetDataDirPath(newPath string) {
	dataDirMu.Lock()
	defer dataDirMu.Unlock()
	dataDirPath = newPath
}

// GetDataDirPath resolves the data directory: the path given to
// SetDataDirPath, then $CHECKERLS_DIR, then ~/.checkerls.
func GetDataDirPath() string {
	dataDirMu.RLock()
	explicit := dataDirPath
	dataDirMu.RUnlock()

	if len(explicit) != 0 {
		return explicit
	}

	if envPath := os.Getenv(DataDirEnv); len(envPath) != 0 {
		return envPath
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		if homeEnv := os.Getenv("HOME"); len(homeEnv) != 0 {
			homeDir = homeEnv
		} else {
			homeDir = os.TempDir()
		}
	}

	return filepath.Join(homeDir, ".checkerls")
}

func GetOrInitializeDataDir() (string, error) {
	dirPath := GetDataDirPath()
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		if err := os.MkdirAll(dirPath, 0755); err != nil {
			return "", err
		}
	}

	return dirPath, nil
}

// DataFilePath returns the path of name inside the data directory, creating
// the directory if needed.
func DataFilePath(name string) (string, error) {
	dirPath, err := GetOrInitializeDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dirPath, name), nil
}
