// Package websocket pushes the distribution hub to browser clients over
// gorilla/websocket.
//
// # Protocol
//
// Every message is an Envelope:
//
//	{"type": "sensor-update", "id": "42", "timestamp": 1717243200000, "payload": {...}}
//
// On connect a client receives, in order:
//
//  1. snapshot: the latest reading of every device at subscription time
//  2. connection-status: the broker connection status
//  3. sensor-update and alert messages for every publish after the snapshot
//
// The snapshot and the live stream come from one hub subscription, so no
// publish is missed or repeated between them.
//
// Clients may send {"type": "request-latest"} at any time and receive a
// latest-data message with the current snapshot. Anything else gets an
// error message; the connection stays open.
//
// # Slow clients
//
// Each client has a bounded hub buffer. A client that falls behind is
// dropped by the hub and closed with a policy-violation close frame. Other
// clients and the pipeline are unaffected.
//
// # Liveness
//
// The server pings every PingInterval and closes clients that do not answer
// within PongTimeout.
package websocket
