// Package util provides small helpers shared across packages: log-safe
// truncation of secrets and URL classification used by configuration and
// redirect URI validation.
package util
