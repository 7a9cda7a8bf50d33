// Package session drives one Myo armband through its connection lifecycle.
//
//	Disconnected → Discovering → Connected → Configured → Streaming → Disconnected
//
// A Session discovers the device, connects, issues the subscription and mode
// writes and, once streaming, turns every notification into a decoded reading
// delivered on a Stream the caller owns. Outbound writes are serialized;
// notifications are decoded concurrently across endpoints but delivered in
// arrival order per endpoint.
package session
