/*
SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

// Package config loads the demo binary's settings from a YAML file the same
// way the router layers flags over environment configuration, using
// gopkg.in/yaml.v3 for parsing.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the demo process's complete configuration surface.
type Config struct {
	Address            string        `yaml:"address"`
	ClientID           string        `yaml:"clientId"`
	ClientMetadata     string        `yaml:"clientMetadata"`
	ReadTimeout        time.Duration `yaml:"readTimeout"`
	TLS                TLSConfig     `yaml:"tls"`
	MetricsBindAddress string        `yaml:"metricsBindAddress"`
}

// TLSConfig configures the optional TLS channel layered under the gRPC
// transport.
type TLSConfig struct {
	Enabled                  bool   `yaml:"enabled"`
	CertFile                 string `yaml:"certFile"`
	KeyFile                  string `yaml:"keyFile"`
	ServerName               string `yaml:"serverName"`
	WaitForCloseConfirmation bool   `yaml:"waitForCloseConfirmation"`
}

// Default returns the baseline configuration applied before a file
// overrides it.
func Default() Config {
	return Config{
		Address:            "localhost:50051",
		ClientID:           "mongodb-stream-demo",
		ReadTimeout:        30 * time.Second,
		MetricsBindAddress: ":9090",
	}
}

// Load reads and parses a YAML config file, starting from Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
