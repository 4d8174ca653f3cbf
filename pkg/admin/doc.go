/*
Package admin exposes the gateway's administrative HTTP API on port 5001.

The API is the surface external collaborators (the web UI, tooling)
consume:

	POST   /v1/clients                  issue credentials, register client
	POST   /v1/services                 issue credentials, register service,
	                                    create route and zones
	GET    /v1/endpoints                read-only views
	GET    /v1/zones
	GET    /v1/routes
	POST   /v1/zones/{zone}/access      authorize an endpoint CN
	DELETE /v1/zones/{zone}/access/{cn} deauthorize
	DELETE /v1/endpoints/{cn}           cascade delete
	GET    /v1/bundles/{cn}             deployment bundle (zip)
	GET    /metrics                     prometheus
	GET    /healthz                     liveness

Credential issuance is atomic with registration: a store rejection
removes the just-issued certificate pair. Store flush failures surface
as 500 with the in-memory state already rolled back to match disk.
Registry changes take effect for new connections immediately; live
tunnels are never reauthorized mid-stream.
*/
package admin
