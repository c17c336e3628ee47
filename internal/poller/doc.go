// Package poller fetches source payloads over HTTP on a schedule.
//
// This package is internal to mapboard. The main components are:
//
//   - [Client]: HTTP client wrapper with timeout and size limits
//   - [Scheduler]: Polls sources at their intervals with a worker pool
//   - [FetchResult]: Outcome of polling a single source
//   - [SourceInfo]: Configuration for a source to poll
//
// A scheduler runs one poll round at a time. Fetches of the same source never
// overlap, and each result carries a per-source sequence number so consumers
// can discard anything older than what they already applied.
package poller
