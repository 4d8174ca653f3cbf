/*
Package proxy implements the gateway's mTLS transport proxy.

Clients connect on port 8443 with a certificate issued by the gateway CA.
The proxy terminates that TLS layer, discovers the destination hostname
from the first bytes of the stream, authorizes the peer against the
matched zone's access list, and tunnels the connection to the real
backend. Backend addresses are never revealed to clients; DNS answers
point at the gateway and the proxy is the only party that dials the
backend.

# Connection Lifecycle

	mTLS handshake (10 s) ──► peer CN
	      │
	      ▼
	peek ≤ 8 KiB (5 s deadline)
	      │
	      ▼
	hostname discovery: Host header → ClientHello SNI → zone literal
	      │
	      ▼
	zone match + access list + route lookup
	      │
	      ▼
	dial backend (5 s) ──► replay peeked bytes ──► bidirectional copy

Every failure before the tunnel opens drops the connection without
writing anything back; an unauthorized peer cannot distinguish a missing
zone from a denied one. The peeked buffer is replayed to the backend
verbatim before any further client reads, so protocol openings (HTTP
request head, TLS ClientHello, database startup messages) arrive intact.

Once a tunnel is up the payload is opaque: no framing, buffering, or
rewriting. When one direction ends, the other side's write half is
closed so its reader observes EOF, the remaining direction drains, and
both sockets are released. There is no per-tunnel state beyond the two
copy goroutines; tunnel counts and lifetimes are observable via logs and
metrics only.
*/
package proxy
