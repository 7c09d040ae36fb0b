// Package config provides configuration loading and validation for the
// HPSDR server. It handles YAML-based configuration with per-section
// validation and fills unset values from Default.
package config
