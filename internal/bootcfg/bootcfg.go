// Package bootcfg loads the boot-time configuration a kernel image
// ships alongside its task list: scheduling mode, priority inheritance,
// preemption, and the initial semaphore counts.
//
// Grounded on the Metadata/BootConfig yaml.v3 loading pattern in the
// teacher's internal/bundle/bundle.go.
package bootcfg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Filename is the conventional name of a boot configuration file,
// mirroring bundle.MetadataFilename's role for this kernel.
const Filename = "preemptos.yaml"

// Config is the on-disk shape of a kernel's boot configuration.
type Config struct {
	Version int `yaml:"version"`

	Scheduler struct {
		Priority   bool `yaml:"priority"`
		Inherit    bool `yaml:"inherit"`
		Preemption bool `yaml:"preemption"`
	} `yaml:"scheduler"`

	Semaphores []SemaphoreInit `yaml:"semaphores,omitempty"`
}

// SemaphoreInit seeds one semaphore's starting count at boot.
type SemaphoreInit struct {
	Index int `yaml:"index"`
	Count int `yaml:"count"`
}

func (c *Config) normalize() {
	if c.Version == 0 {
		c.Version = 1
	}
}

// Default returns the configuration the source boots with: priority
// scheduling, no priority inheritance, cooperative (non-preemptive)
// switching.
func Default() Config {
	c := Config{Version: 1}
	c.Scheduler.Priority = true
	return c
}

// Load reads and parses a boot configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("bootcfg: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("bootcfg: parse %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}
