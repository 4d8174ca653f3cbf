/*
Package metrics exposes Prometheus collectors for the gateway.

Counters cover the resolver (queries by outcome, upstream forwards), the
proxy (tunnels by outcome, active tunnels, bytes by direction), and the
administrative API. A Collector periodically refreshes registry gauges
(endpoints, zones, routes) from the data store. Handler() serves the
/metrics endpoint on the administrative listener.
*/
package metrics
