// Package store holds the grid record sets and fans out change events.
//
// This package is internal to mapboard. Every grid source owns one
// [RecordSet], replaced whole on each successful poll. Marker changes are not
// stored here (the marker synchronizer owns that state) but are published
// through the same event stream so dashboard clients see one ordered feed.
//
// The main components are:
//
//   - [Store]: Interface defining grid storage and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [RecordSet]: An immutable snapshot of one grid
//   - [Event]: A change notification delivered to subscribers
//
// Subscribers receive events via channels with non-blocking sends (slow
// subscribers will miss events rather than block the system).
package store
