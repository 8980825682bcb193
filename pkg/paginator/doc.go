// Package paginator turns the remote query API into a sequence of batches, each carrying
// the cursor it started from and the cursor that follows it.
package paginator
