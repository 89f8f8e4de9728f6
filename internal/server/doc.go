// Package server implements the portal's HTTP surface: the management API
// behind the session check, the public share-link endpoints, and the
// operational endpoints. Dependencies are passed in explicitly so tests can
// run the whole router against a temporary database.
package server
