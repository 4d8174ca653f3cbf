/*
Package sigconf produces and verifies the signed configuration tokens
(config.zt) shipped in deployment bundles.

The payload binds an endpoint to the gateway's DoT and proxy addresses,
the expected TLS server name, the endpoint role, its authoritative
domains, and an expiry. The token is a detached RSA-SHA256 signature over
the JSON payload, issued with the CA private key and verified against the
CA certificate bundled alongside it. An endpoint that cannot verify its
token fails before opening any sockets.
*/
package sigconf
