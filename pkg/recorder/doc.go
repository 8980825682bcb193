// Package recorder consumes download outcomes.
//
// Successful transfers are appended to the metadata log and failures to the error log,
// optionally mirrored into a SQLite ledger. The checkpoint is only advanced past a batch
// once every descriptor of that batch, and of all earlier batches, has been recorded, so a
// persisted cursor always describes a complete prefix of the record set.
package recorder
