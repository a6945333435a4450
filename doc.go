// Package gcd is a versioned value store with content-addressed attachments.
//
// Values are stored under hierarchical string keys,
// or _tags_,
// such as "build.linux.status".
// Tags use lowercase letters, digits, underscores, dashes and dots;
// the dots separate levels of a namespace,
// which Store.List walks one level at a time.
//
// Every write to a tag creates a new Packet:
// the payload (any JSON-representable value),
// a timestamp,
// and any number of named attachments.
// Packets are never changed after they are written.
// Instead each tag accumulates a _backlog_,
// its packets in newest-first order,
// and Store.Get returns the head of that backlog.
//
// Attachments are arbitrary byte streams.
// They are stored apart from the packets,
// in an attachment store that names each blob by the SHA-1 hash of its content
// (its AID).
// A packet only holds AIDs,
// so the same bytes attached to many packets are stored once.
//
// Backlogs live in a Backend.
// This module provides embedded backends that keep one serialized backlog per tag
// (backend/file and backend/leveldb),
// relational backends that keep one row per packet
// (backend/sqlite3 and backend/pg),
// and an in-memory one (backend/mem).
// They differ in durability and speed but not in behavior.
//
// A Store publishes an EventValueChanged event through its Dispatcher
// whenever a save changes the value of a tag.
//
// Note that backlogs are never pruned.
// A tag written at a high rate grows without bound;
// Store.Backlog reads it in windows
// (DefaultBacklogWindow packets at a time)
// so that no single call has to return all of it.
package gcd
