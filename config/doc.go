// Package config loads the process configuration of an hts master and builds the master from it.
//
// A configuration is read from YAML, overridden by HTSMASTER_* environment variables, and
// validated before anything is opened. Build wires the configured storage engine, identity
// supplier, change notifiers, Redis cache, and metrics into a ready Runtime.
package config
