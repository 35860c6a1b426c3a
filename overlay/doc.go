// Copyright (c) 2024-2026 The Veilnet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package overlay implements the logical addressing and message dispatch
layer of the peer-to-peer overlay.

Peers are addressed by stable netid identifiers rather than transport
endpoints.  Every outgoing unit of communication passes through the
Network facade which attaches process-wide protocol headers uniformly,
resolves the destination identifier to a live connection via the
registry, and forwards to the RPC dispatcher (for notifications and
requests) or directly to the connection (for raw sends and broadcasts).

The package performs no transport I/O, cryptography, or interpretation
of message contents itself.  Connections are owned by the transport
subsystem and only referenced here, and the registry is populated and
pruned by the connection management subsystem as peers come and go.
*/
package overlay
