/*
Package storage persists the gateway's registry of endpoints, zones, and
routes.

The Store interface is consumed by the resolver, proxy, and administrative
API; FileStore implements it over three JSON documents in the data
directory:

	data/endpoints.json    CN → endpoint
	data/zones.json        zone name → records, owner CN, access list
	data/routes.json       service CN → backend host:port

# Consistency

Mutations are rare (administrative only) and reads dominate, so a single
RWMutex guards an in-memory mirror of the documents. A mutation clones the
affected maps, applies the change, flushes each affected document with
write-to-temp-then-rename, and only then swaps the mirror. A failed flush
leaves the mirror matching the unmodified disk state, which is what the
administrative API reports back as a server error.

Referential invariants enforced on every mutation:

  - every access-list CN references an existing endpoint
  - every route key references an existing service endpoint
  - a zone with an owner CN requires that route (or is created with it in
    RegisterService)
  - deleting an endpoint prunes its CN from every access list and, for a
    service, removes its route and owned zones in the same commit

Zone names are normalized (lower-case, trailing dot stripped) before
keying, matching what the resolver and proxy do to query names.
*/
package storage
