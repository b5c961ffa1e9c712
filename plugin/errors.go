package plugin

import "errors"

var (
	// ErrCircularUse is returned when a plugin value is used while it is still being constructed.
	ErrCircularUse = errors.New("plugin used while its own resolution is in progress")
	// ErrNotRegistered is returned when a singleton type has no definition.
	ErrNotRegistered = errors.New("no plugin registered for type")
	// ErrDuplicateSingleton is returned when a second definition is made for a singleton type.
	ErrDuplicateSingleton = errors.New("singleton type already has a definition")
	// ErrInvalidDefinition is returned for definitions without a type or a factory.
	ErrInvalidDefinition = errors.New("invalid plugin definition")
	// ErrWrongType is returned when a resolved value does not have the requested Go type.
	ErrWrongType = errors.New("plugin value has unexpected type")
	// ErrMethodNotFound is returned by the Loader when a plugin does not export the requested method.
	ErrMethodNotFound = errors.New("plugin method not found")
)
