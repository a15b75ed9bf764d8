package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Entry is the sidecar config schema. A sidecar file holds a list of entries
// in JSON or YAML; both parse into this one internal schema, so nothing past
// this point branches on the source format.
type Entry struct {
	BinPath string `yaml:"bin_path" json:"bin_path"`
	URL     string `yaml:"url" json:"url"`
	Name    string `yaml:"name" json:"name"`
	Help    string `yaml:"help" json:"help"`
	// Timeout is in whole seconds. Zero means "use the default".
	Timeout int `yaml:"timeout" json:"timeout"`
}

// sidecarExts are the file extensions recognized as sidecar configs.
var sidecarExts = map[string]bool{
	".json": true,
	".yaml": true,
	".yml":  true,
}

// listSidecarFiles returns the sidecar config files in confDir, sorted by
// name so later files deterministically win merges.
func listSidecarFiles(confDir string) ([]string, error) {
	entries, err := os.ReadDir(confDir)
	if err != nil {
		return nil, fmt.Errorf("read conf dir %s: %w", confDir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if sidecarExts[filepath.Ext(e.Name())] {
			files = append(files, filepath.Join(confDir, e.Name()))
		}
	}
	return files, nil
}

// parseSidecarFile reads one config file into entries. JSON and YAML front
// ends normalize into the same schema.
func parseSidecarFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sidecar %s: %w", path, err)
	}

	var entries []Entry
	if filepath.Ext(path) == ".json" {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parse JSON sidecar %s: %w", path, err)
		}
		return entries, nil
	}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse YAML sidecar %s: %w", path, err)
	}
	return entries, nil
}
