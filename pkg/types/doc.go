/*
Package types defines the shared data model for the ZeroTrust gateway.

The three persisted entities are Endpoint (a peer identified by the CN in
its client certificate), Zone (an authoritative private DNS namespace with
a per-zone access list), and Route (the mapping from a service endpoint's
CN to the real backend address). The package also carries the
normalization helpers the resolver, proxy, and store all share so that
zone names are keyed and matched identically everywhere.

# Identity Model

	Endpoint CN  ──►  c3fa91b20d84a (client)
	                  s7e02c41f9b3d (service)

	Zone         ──►  db.internal.corp
	                  ├── records: {"@": [A <gw>], "replica": [A <gw>]}
	                  ├── service_cn: s7e02c41f9b3d
	                  └── allowed_endpoints: [s7e02c41f9b3d, c3fa91b20d84a]

	Route        ──►  s7e02c41f9b3d → 10.10.10.50:5432

A connecting peer is identified solely by its certificate CN; authorization
is membership in the target zone's access list.
*/
package types
