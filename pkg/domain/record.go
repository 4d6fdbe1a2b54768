package domain

// ConnID identifies the database connection a transaction runs on. Engine
// state is keyed by this value so that transactions on different
// connections never observe each other's changes.
type ConnID string

// Record is the capability a persistent entity exposes to the change engine.
// Persistence hosts implement it on their entity types and raise the engine's
// lifecycle hooks explicitly.
type Record interface {
	// Class returns the concrete entity class of the record.
	Class() *Class
	// ID returns the primary key, empty for records that were never saved.
	ID() string
	// Persisted reports whether the record exists in the database.
	Persisted() bool
	// Attr returns the current in-memory value of an attribute.
	Attr(name string) any
}
