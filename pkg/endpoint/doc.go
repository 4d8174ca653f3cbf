/*
Package endpoint implements the runtime shipped to clients and services
in deployment bundles.

On startup the bundle's signed configuration (config.zt) is verified
against the bundled CA certificate; a failed verification aborts before
any socket opens. The verified payload supplies the gateway addresses
and the server name pinned in TLS verification. The local DNS forwarder
then binds 127.0.0.1:53 (or 5353 without root) and relays queries to the
gateway over mutually-authenticated DNS-over-TLS; service endpoints try
public DNS first, since they mostly resolve public names from the
backend side.
*/
package endpoint
