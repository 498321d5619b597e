// Package store defines the run status repository behind the status API.
// Implementations live under internal/storage; this package must not import
// database drivers or concrete clients.
package store
