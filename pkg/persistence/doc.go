// Package persistence provides runtime state persistence for telemetry servers.
//
// This package handles the JSON serialization of simulated source state
// (last value and engineering-unit range per node) so that a restarted
// server resumes its signals where it left off instead of snapping back
// to the configured mean.
package persistence
