package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches every ConfigurationError through errors.Is.
	ErrConfiguration = errors.New("configuration error")
	// ErrNoSuchNode matches every NoSuchNodeError through errors.Is.
	ErrNoSuchNode = errors.New("no such node")
	// ErrRecursionLimit matches every RecursionLimitError through errors.Is.
	ErrRecursionLimit = errors.New("dispatch recursion limit reached")
)

// ConfigurationError reports a malformed subscription: duplicate node ids,
// empty dependency declarations, duplicate handlers or a class without a
// resolvable handler.
type ConfigurationError struct {
	Node   string
	Class  string
	Reason string
}

func (e ConfigurationError) Error() string {
	switch {
	case e.Node != "" && e.Class != "":
		return fmt.Sprintf("node %s, class %s: %s", e.Node, e.Class, e.Reason)
	case e.Node != "":
		return fmt.Sprintf("node %s: %s", e.Node, e.Reason)
	default:
		return e.Reason
	}
}

// Is reports whether target is ErrConfiguration.
func (e ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// NoSuchNodeError is returned when a node id is not registered.
type NoSuchNodeError struct {
	Node string
}

func (e NoSuchNodeError) Error() string {
	return fmt.Sprintf("node %s not found", e.Node)
}

// Is reports whether target is ErrNoSuchNode.
func (e NoSuchNodeError) Is(target error) bool { return target == ErrNoSuchNode }

// RecursionLimitError is returned when nested dispatch cycles exceed the
// configured depth.
type RecursionLimitError struct {
	Depth int
}

func (e RecursionLimitError) Error() string {
	return fmt.Sprintf("dispatch nested %d levels deep", e.Depth)
}

// Is reports whether target is ErrRecursionLimit.
func (e RecursionLimitError) Is(target error) bool { return target == ErrRecursionLimit }
