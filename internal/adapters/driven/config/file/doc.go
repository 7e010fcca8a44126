// Package file provides the file-based configuration adapter.
//
// ConfigStore reads and writes ~/.cashsync/config.toml; LoadConfig decodes
// it over domain.DefaultConfig.
package file
