// Package traefik renders the container labels that publish a service through
// a Traefik edge router watching the Docker provider.
//
// Routers and services are keyed by service name, not by container, so the
// previous and the new container of a redeploy briefly share one route while
// the old one is being removed.
package traefik
