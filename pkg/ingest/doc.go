// Package ingest sits between raw analytics payloads and the batch
// processor. It silently drops anonymous events (unauthenticated analytics
// noise, not a validation failure), normalizes the remainder into
// canonical records, validates them, and enqueues the survivors.
// Admission is fire-and-forget: once an event is queued, eventual flush
// outcome is never reported back to the caller.
package ingest
