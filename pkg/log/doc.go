// Package log defines the structured logging surface used across commitwatch.
//
// Engine and store code depend only on the Logger interface. The default is
// NoopLogger; deployments plug in the zerolog-backed adapter.
package log
