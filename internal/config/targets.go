package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Target declares a speaker the hub should be able to wake, seeded from the
// targets file rather than learned at runtime.
type Target struct {
	Name               string   `yaml:"name"`
	IP                 string   `yaml:"ip,omitempty"`
	Port               int      `yaml:"port,omitempty"`
	CPath              string   `yaml:"cpath,omitempty"`
	VolumePreset       *int     `yaml:"volume_preset,omitempty"`
	MaxWakeWaitSec     *int     `yaml:"max_wake_wait_s,omitempty"`
	SpotifyDeviceNames []string `yaml:"spotify_device_names,omitempty"`
}

type targetsFile struct {
	Targets []Target `yaml:"targets"`
}

// LoadTargets parses the YAML targets file. A missing path returns an empty
// list rather than an error so the file stays optional.
func LoadTargets(path string) ([]Target, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read targets file: %w", err)
	}

	var parsed targetsFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse targets file: %w", err)
	}

	targets := make([]Target, 0, len(parsed.Targets))
	for _, t := range parsed.Targets {
		if t.Name == "" {
			return nil, fmt.Errorf("targets file: every target requires a name")
		}
		if t.VolumePreset != nil && (*t.VolumePreset < 0 || *t.VolumePreset > 100) {
			return nil, fmt.Errorf("targets file: target %q volume_preset out of range", t.Name)
		}
		targets = append(targets, t)
	}
	return targets, nil
}
