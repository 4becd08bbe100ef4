package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
)

// Load reads a fixture file relative to the calling test's package
// directory, so tests can keep captures under testdata/ and load them
// regardless of the working directory.
func Load(filename string) ([]byte, error) {
	_, callerFile, _, _ := runtime.Caller(1)
	return os.ReadFile(filepath.Join(filepath.Dir(callerFile), filename))
}

// LoadJSON reads and unmarshals a JSON fixture. If target is provided,
// it also unmarshals the JSON into the target struct.
func LoadJSON(filename string, target ...any) (map[string]any, error) {
	_, callerFile, _, _ := runtime.Caller(1)
	data, err := os.ReadFile(filepath.Join(filepath.Dir(callerFile), filename))
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err = json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	if len(target) > 0 && target[0] != nil {
		if err = json.Unmarshal(data, target[0]); err != nil {
			return nil, err
		}
	}
	return result, nil
}
