// This file defines the Document interface shared by config types.
package config

// Document is the interface every config type in this package implements,
// so loaders can apply the same SetDefaults-then-Validate sequence
// regardless of concrete type.
type Document interface {
	// Validate checks if the configuration is valid and returns an error if not.
	Validate() error

	// SetDefaults sets default values for any unset fields.
	SetDefaults()
}
