package traefik

import "fmt"

// Route describes how a public service is exposed.
type Route struct {
	// Service is the service name, used as the router and service key.
	Service string

	// Hostname is matched by the Host rule (e.g., "web.apps.example.com").
	Hostname string

	// Port is the container port traffic is forwarded to.
	Port int

	// TLS adds a websecure router with the letsencrypt resolver.
	TLS bool

	// Network is the Docker network Traefik reaches the container on.
	Network string
}

// RouterName returns the router/service key for a service.
func RouterName(service string) string {
	return "nucleus-" + service
}

// Labels generates the Traefik labels for a route.
//
//	Labels(Route{Service: "web", Hostname: "web.apps.example.com", Port: 8080})
//	// {
//	//   "traefik.enable": "true",
//	//   "traefik.http.routers.nucleus-web.rule": "Host(`web.apps.example.com`)",
//	//   "traefik.http.routers.nucleus-web.entrypoints": "web",
//	//   "traefik.http.services.nucleus-web.loadbalancer.server.port": "8080",
//	// }
func Labels(r Route) map[string]string {
	name := RouterName(r.Service)
	rule := fmt.Sprintf("Host(`%s`)", r.Hostname)

	labels := map[string]string{
		"traefik.enable": "true",
		fmt.Sprintf("traefik.http.routers.%s.rule", name):                      rule,
		fmt.Sprintf("traefik.http.routers.%s.entrypoints", name):               "web",
		fmt.Sprintf("traefik.http.routers.%s.service", name):                   name,
		fmt.Sprintf("traefik.http.services.%s.loadbalancer.server.port", name): fmt.Sprintf("%d", r.Port),
	}
	if r.Network != "" {
		labels["traefik.docker.network"] = r.Network
	}

	if r.TLS {
		secure := name + "-secure"
		labels[fmt.Sprintf("traefik.http.routers.%s.rule", secure)] = rule
		labels[fmt.Sprintf("traefik.http.routers.%s.entrypoints", secure)] = "websecure"
		labels[fmt.Sprintf("traefik.http.routers.%s.service", secure)] = name
		labels[fmt.Sprintf("traefik.http.routers.%s.tls", secure)] = "true"
		labels[fmt.Sprintf("traefik.http.routers.%s.tls.certresolver", secure)] = "letsencrypt"
	}

	return labels
}

// ExternalURL returns the URL a route is reachable at.
func ExternalURL(r Route) string {
	scheme := "http"
	if r.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, r.Hostname)
}
