// Package testutil provides fixtures, a controllable clock and an OpenTelemetry
// metric reader for tests across the module.
package testutil
