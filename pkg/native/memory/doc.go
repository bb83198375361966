// Package memory provides an in-memory native.Client.
//
// It serves two purposes: a backend for running the provider without a
// network (native.type: memory) and a test double that records invocation
// order, detects overlapping calls and injects failures, delays or panics.
package memory
