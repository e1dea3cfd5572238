// Package config provides configuration loading for worker processes.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dealdrip/dealdrip/pkg/models"
)

// WorkerFile is the structure of the optional worker.yaml file. Anything set
// here overrides the corresponding command-line default; channel switches are
// applied to the switchboard at boot.
type WorkerFile struct {
	Workers     int             `yaml:"workers"`
	MetricsPort int             `yaml:"metrics_port"`
	Channels    map[string]bool `yaml:"channels"`
	Engagement  EngagementFile  `yaml:"engagement"`
}

// EngagementFile configures the Redis engagement callback consumer.
type EngagementFile struct {
	RedisAddr string `yaml:"redis_addr"`
	Queue     string `yaml:"queue"`
}

// LoadWorkerFile loads and validates a worker configuration from a YAML file.
func LoadWorkerFile(filepath string) (WorkerFile, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return WorkerFile{}, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file WorkerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return WorkerFile{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	for name := range file.Channels {
		if !models.Channel(name).Valid() {
			return WorkerFile{}, fmt.Errorf("unknown channel %q in config", name)
		}
	}

	return file, nil
}
