// Package session owns one encrypted duplex channel to a data center.
//
// Ownership boundary:
// - lifecycle (start, stop, restart) and the receive and keep-alive loops
// - request/response correlation through the pending table
// - acknowledgement batching and replay protection for inbound ids
// - invocation retries, flood waits and salt rotation
//
// Wire objects live in internal/protocol; encryption in internal/protocol/codec.
package session
