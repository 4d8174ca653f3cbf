/*
Package gateway assembles the zero-trust gateway process: one data
store, one certificate authority, and three listeners (DNS-over-TLS on
853, the transport proxy on 8443, the administrative API on 5001)
sharing them.

New bootstraps on-disk state under the data directory:

	certs/ca.crt ca.key server.crt server.key <cn>.crt <cn>.key
	data/endpoints.json zones.json routes.json
	binaries/ztendpoint-*

Start launches the listeners; Stop closes them and lets in-flight
connections unwind on socket errors.
*/
package gateway
