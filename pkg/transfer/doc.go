// Package transfer wires the paginator, the download worker pool and the result recorder
// into a resumable bulk attachment transfer.
//
// A run resumes from the persisted checkpoint, queues descriptors batch by batch, and
// advances the checkpoint only after every descriptor of a batch has a terminal outcome.
// Cancellation stops queueing work while transfers already under way finish, so the next
// run re-fetches at most the batches that were in flight.
package transfer
