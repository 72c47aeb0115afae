// Package protocol owns the object model exchanged over a session.
//
// Ownership boundary:
// - service objects the session layer routes on (ping/pong, rpc_result,
//   rpc_error, salts, acks, containers, notifications)
// - query wrappers (invokeWithLayer, initConnection, invokeWithoutUpdates,
//   invokeWithTakeout)
// - Generic objects for every constructor outside the service set
// - object and message encode/decode over tlv fields, gzip_packed unwrapping
package protocol
