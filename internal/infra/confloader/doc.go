// Package confloader loads configuration with koanf.
//
// Sources, highest priority first:
//
//  1. Command-line flags (LoadMap)
//  2. Environment variables (OTAMESH_ prefix, "__" between nested keys)
//  3. YAML configuration file
//  4. Values already set in the target struct
//
// Watcher reports edits of a loaded file so that reloadable settings, such
// as the log level, can be applied without a restart.
package confloader
