package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CameraSeed is one camera listed in the seed file.
type CameraSeed struct {
	PhysicalID int    `yaml:"physical_id"`
	Name       string `yaml:"name"`
	Zone       string `yaml:"zone"`
}

type seedFile struct {
	Cameras []CameraSeed `yaml:"cameras"`
}

// LoadCameraSeed reads a YAML file of the form
//
//	cameras:
//	  - physical_id: 0
//	    name: Main gate
//	    zone: North
func LoadCameraSeed(path string) ([]CameraSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read camera seed %s: %w", path, err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse camera seed %s: %w", path, err)
	}
	for i, c := range f.Cameras {
		if c.Name == "" {
			return nil, fmt.Errorf("camera seed %s: entry %d has no name", path, i)
		}
		if c.PhysicalID < 0 {
			return nil, fmt.Errorf("camera seed %s: entry %d has negative physical_id", path, i)
		}
	}
	return f.Cameras, nil
}
