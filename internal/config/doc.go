// Package config loads the daemon's JSON configuration, fills in defaults and
// validates it before any component is constructed.
package config
