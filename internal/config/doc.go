// Package config loads codeknow settings from defaults, an optional
// .codeknow.yaml file and CODEKNOW_* environment variables.
package config
