// Package protoframe is a typed request/response and notification protocol
// over any full-duplex message transport.
//
// Every record is tagged "<namespace>#<action>#<type>" where action is tell or
// ask. Asks carry a correlation id that the answering side echoes on its
// response, so several asks of the same type can be in flight at once.
// Records that do not decode or do not match are ignored, which lets unrelated
// traffic share a transport.
//
// A Pubsub also answers "ping" asks on the private "system|<namespace>"
// namespace. Connect uses those pings to wait for a peer that may start later.
package protoframe
