// Package ingest processes inbound email events: replies and bounces.
//
// A reply transitions its lead to REPLIED and cancels the lead's
// pending jobs in one transaction, taking the same row locks the
// dispatcher holds while sending. That ordering is what guarantees a
// recorded reply is never followed by another send.
//
// Ingestion is idempotent: replaying a webhook finds the lead already
// terminal and changes nothing.
package ingest
