// Package config provides environment-based configuration.
//
// Loads from .env file (godotenv, done in main), validates limits and the
// conflict policy, and falls back to development defaults.
package config
