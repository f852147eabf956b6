package artifact

import (
	"fmt"

	"github.com/artpar/nucleus/internal/core/domain"
)

// Plan is the build-step-disambiguated output of Resolve.
type Plan struct {
	// Build is true when the artifact must be built before it can run.
	Build bool

	// Source fields, set when Build is true.
	Runtime      domain.Runtime
	Directory    string
	BuildCommand string
	StartCommand string

	// Image fields, set when Build is false.
	Image       string
	Credentials domain.RegistryCredentials
}

// Resolve validates the artifact of spec and returns its provisioning plan.
//
// Source artifacts need a supported runtime, a directory and a start
// command. Image artifacts ignore the spec's build and start commands; the
// image entrypoint governs startup.
func Resolve(spec domain.ServiceSpec) (Plan, error) {
	a := spec.Artifact

	switch a.Kind {
	case domain.ArtifactSource:
		if a.Source == nil || a.Image != nil {
			break
		}
		return resolveSource(*a.Source, spec.BuildCommand, spec.StartCommand)

	case domain.ArtifactImage:
		if a.Image == nil || a.Source != nil {
			break
		}
		return resolveImage(*a.Image)
	}

	return Plan{}, domain.ValidationError("ResolveArtifact", "unrecognized artifact")
}

func resolveSource(src domain.SourceArtifact, buildCommand, startCommand string) (Plan, error) {
	if !src.Runtime.Valid() {
		return Plan{}, domain.ValidationError("ResolveArtifact",
			fmt.Sprintf("unsupported runtime %q: allowed values are nodejs, python, go", src.Runtime))
	}
	if src.Directory == "" {
		return Plan{}, domain.ValidationError("ResolveArtifact", "source directory is required")
	}
	if startCommand == "" {
		return Plan{}, domain.ValidationError("ResolveArtifact", "startCommand is required for source artifacts")
	}

	return Plan{
		Build:        true,
		Runtime:      src.Runtime,
		Directory:    src.Directory,
		BuildCommand: buildCommand,
		StartCommand: startCommand,
	}, nil
}

func resolveImage(img domain.ImageArtifact) (Plan, error) {
	if img.Image == "" {
		return Plan{}, domain.ValidationError("ResolveArtifact", "image reference is required")
	}
	return Plan{
		Build:       false,
		Image:       img.Image,
		Credentials: img.Credentials,
	}, nil
}
