// Package storage places downloaded attachment bodies at their destination.
//
// Two sinks are provided. FileStore writes into a local directory through a
// resumable downloader and renames the finished file into place. BucketStore
// streams into any gocloud blob bucket. Both verify the byte count against the
// size the record service reported before the object becomes visible.
//
// Destination names come from ObjectKey: the record ID plus the original file
// extension, so two attachments named "invoice.pdf" never collide.
package storage
