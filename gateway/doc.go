// Package gateway runs E1381 sessions over TCP.
//
// A Server accepts instrument connections and serves them in the responder
// role: every connection carries any number of sessions back to back until
// the peer disconnects or stays idle past the idle timeout. Received messages
// are passed to a Handler, which may return a reply that is sent back on the
// same connection after a turnaround.
//
// A Client dials out. Send delivers one message and collects the optional
// reply; Listen keeps a connection open in the responder role and reconnects
// with exponential backoff, for instruments that act as the TCP server.
package gateway
