/*
Package store persists video metadata records.

Two implementations back the same Store interface: SQLite for
single-node deployments and DynamoDB for the managed path. Both offer
per-field updates (SetThumbnail, AddRendition, SetStatus) so concurrent
pipeline steps never clobber each other with whole-record writes, and
cursor-based listing with a stable per-backend ordering (newest first
on SQLite, table key order on DynamoDB).

Cursors are opaque base64 tokens. Their internal shape differs per
backend (keyset position for SQLite, LastEvaluatedKey for DynamoDB) and
must never be interpreted by callers.
*/
package store
