// Package config loads wampctl run configuration from TOML.
//
// Files are decoded over DefaultRunnerConfig; only keys present in the file
// override a default.
package config
