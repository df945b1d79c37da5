// Package storage is the optional persistence layer behind the delivery
// collaborator.
//
// It currently supports:
//   - Delivery log appends (what was shown, where, and how it went)
//   - Seen-message state so redelivered batches are not re-displayed
//     across restarts
//
// Nothing here belongs to the sync core: the watermark lives only on the
// remote service, and at-least-once delivery stands with storage disabled.
package storage
