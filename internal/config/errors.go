package config

import "errors"

// Sentinel errors for configuration handling.
var (
	// ErrInvalidKey indicates a key that cannot be stored in the key=value file.
	ErrInvalidKey = errors.New("invalid config key")

	// ErrInvalidSyntax indicates a config file line without key=value form.
	ErrInvalidSyntax = errors.New("invalid config syntax")

	// ErrUnknownKey indicates a key chunkscribe does not recognize.
	ErrUnknownKey = errors.New("unknown config key")

	// ErrInvalidValue indicates a value rejected by the key's validator.
	ErrInvalidValue = errors.New("invalid config value")

	// ErrNotDirectory indicates output-dir points at a file.
	ErrNotDirectory = errors.New("path is not a directory")

	// ErrNotWritable indicates output-dir cannot be written to.
	ErrNotWritable = errors.New("directory is not writable")
)
