// Package config provides the crawlkit configuration: engine limits,
// transfer settings, cache and proxy selection, per-site overrides and
// report preferences. Values come from a YAML file, CRAWLKIT_* environment
// variables and CLI flags.
package config
