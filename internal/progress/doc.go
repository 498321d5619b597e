// Package progress carries run, day and page milestones from the export
// pipeline to pluggable sinks. Events are batched on a background goroutine so
// fetch tasks never wait on logging or persistence.
package progress
