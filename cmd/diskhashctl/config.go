package main

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config holds CLI-wide defaults loadable from a JSON or YAML file via
// --config, so a fixed base path doesn't have to be repeated on every
// invocation. Metricslisten is parsed but no subcommand reads it.
type Config struct {
	BasePath      string `json:"base_path" yaml:"base_path"`
	Metricslisten string `json:"metrics_listen" yaml:"metrics_listen"`
}

func isJSONFile(filepath string) bool {
	return len(filepath) > 5 && filepath[len(filepath)-5:] == ".json"
}

func isYAMLFile(filepath string) bool {
	return len(filepath) > 5 && filepath[len(filepath)-5:] == ".yaml" ||
		len(filepath) > 4 && filepath[len(filepath)-4:] == ".yml"
}

// LoadConfig reads configFilepath, dispatching on its extension.
func LoadConfig(configFilepath string) (*Config, error) {
	var config Config

	switch {
	case isJSONFile(configFilepath):
		if err := loadFromJSON(configFilepath, &config); err != nil {
			return nil, err
		}
	case isYAMLFile(configFilepath):
		if err := loadFromYAML(configFilepath, &config); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("config file %q must be JSON or YAML", configFilepath)
	}

	return &config, nil
}

func loadFromJSON(configFilepath string, dst any) error {
	file, err := os.Open(configFilepath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(dst)
}

func loadFromYAML(configFilepath string, dst any) error {
	file, err := os.Open(configFilepath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return yaml.NewDecoder(file).Decode(dst)
}
