// Package config defines the YAML configuration surface of the service
// and validates it at startup.
package config
