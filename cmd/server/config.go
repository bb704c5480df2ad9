package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// config carries the server settings. Flags override file values, the file
// overrides defaults.
type config struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Session  string `yaml:"session"`
}

func defaultConfig() config {
	return config{
		Addr:     "localhost:3000",
		Database: "whiteboard.sqlite3",
	}
}

func loadConfig(path string) (config, error) {
	c := defaultConfig()
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("failed to parse config: %w", err)
	}
	return c, nil
}

// defaultSessionName derives a fresh session name from the current time.
func defaultSessionName(now time.Time) string {
	return "session-" + now.Format("2006-01-02-15-04")
}
