// Package confloader layers meshd configuration from a YAML file,
// CONSTELLATION_ environment variables and explicit overrides, in that
// order of increasing priority.
//
// Environment keys use a double underscore between levels so that single
// underscores survive inside key names:
//
//	CONSTELLATION_MESH__JOIN_TIMEOUT=45s  ->  mesh.join_timeout
//
// Watcher reports edits to the config file so that reloadable settings
// (currently the log level) can be re-applied without a restart.
package confloader
