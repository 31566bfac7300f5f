package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// connectionConfig describes one meter endpoint, loaded from a yaml file
// such as:
//
//	host: 10.0.0.5
//	port: 4059
//	timeout_seconds: 5
//	password: "00000001"
//	class: 3
//	obis: "1.0.1.8.0.255"
//	attribute: 2
type connectionConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Password       string `yaml:"password,omitempty"`
	Class          uint16 `yaml:"class"`
	OBIS           string `yaml:"obis"`
	Attribute      int8   `yaml:"attribute"`
}

func loadConnectionConfig(path string) (*connectionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := &connectionConfig{TimeoutSeconds: 10}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("config %s: host is required", path)
	}
	if cfg.Port == 0 {
		cfg.Port = 4059
	}
	if cfg.OBIS == "" {
		return nil, fmt.Errorf("config %s: obis is required", path)
	}
	return cfg, nil
}
