package deployment

import "fmt"

// =============================================================================
// Resource Naming Functions
// =============================================================================

// NetworkName is the shared network public service containers join. The edge
// proxy routes to them over it.
const NetworkName = "nucleus"

// ServiceNetworkName generates the network a service is reachable on by the
// services that list it in allowedServices.
// Pattern: nucleus_svc_{serviceName}
//
// Example:
//
//	ServiceNetworkName("db") // returns "nucleus_svc_db"
func ServiceNetworkName(serviceName string) string {
	return "nucleus_svc_" + serviceName
}

// ContainerName generates the container name for a version of a service.
// Pattern: nucleus_{serviceName}_v{version}
//
// Example:
//
//	ContainerName("web", 3) // returns "nucleus_web_v3"
func ContainerName(serviceName string, version int64) string {
	return fmt.Sprintf("nucleus_%s_v%d", serviceName, version)
}

// ImageTag generates the tag for an image built from source.
// Pattern: nucleus/{serviceName}:{attemptID}
//
// Example:
//
//	ImageTag("web", "1f3a") // returns "nucleus/web:1f3a"
func ImageTag(serviceName, attemptID string) string {
	return fmt.Sprintf("nucleus/%s:%s", serviceName, attemptID)
}

// Hostname generates the public hostname of a service.
// Pattern: {serviceName}.{baseDomain}
//
// Example:
//
//	Hostname("web", "apps.example.com") // returns "web.apps.example.com"
func Hostname(serviceName, baseDomain string) string {
	return fmt.Sprintf("%s.%s", serviceName, baseDomain)
}
