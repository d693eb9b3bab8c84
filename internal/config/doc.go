// Package config defines the application's configuration structures and the
// logic for loading them from config files and ATELIER_-prefixed environment
// variables, with validation applied before the config is handed out.
package config
