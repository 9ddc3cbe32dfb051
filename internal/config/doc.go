// Package config reads daemon settings from the environment, optionally
// seeded from a .env file.
package config
