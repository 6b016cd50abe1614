// Package batch buffers admitted analytics events in memory and flushes
// them to the store in fixed-size FIFO batches on a timer.
//
// A batch insert is one transaction and fails atomically, but recovery is
// per event: each event in a failed batch is re-enqueued at the back of
// the queue until its retry budget is exhausted, then handed to the
// dead-letter store. Flush ticks are single-flight; a tick that fires
// while a flush is still running is skipped, not queued, so the queue
// simply grows until the next successful tick.
//
// Insert failures never surface to the original caller. Ingestion is
// fire-and-forget; all recovery happens inside the processor.
package batch
