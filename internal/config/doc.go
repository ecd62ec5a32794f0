// Package config provides configuration loading and validation for the node
// agent. It handles YAML-based configuration with struct validation and
// sensible defaults when no config file is present; core components receive
// plain values at construction and never read the environment themselves.
package config
