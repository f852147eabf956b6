package artifact

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/artpar/nucleus/internal/core/domain"
)

// BaseImages maps each runtime to the image its build starts from.
var BaseImages = map[domain.Runtime]string{
	domain.RuntimeNodeJS: "node:20-alpine",
	domain.RuntimePython: "python:3.12-slim",
	domain.RuntimeGo:     "golang:1.24-alpine",
}

// DefaultPort is the port every built service is expected to listen on.
// It is exported to the process as PORT.
const DefaultPort = 8080

// Dockerfile renders the build recipe for a source plan.
//
// The build context is copied to /app, the build command (if any) runs at
// image build time and the start command becomes the container command.
//
// Example:
//
//	Dockerfile(Plan{Runtime: "nodejs", BuildCommand: "npm ci", StartCommand: "npm start"})
//	// FROM node:20-alpine
//	// WORKDIR /app
//	// COPY . .
//	// RUN npm ci
//	// ENV PORT=8080
//	// EXPOSE 8080
//	// CMD ["/bin/sh","-c","npm start"]
func Dockerfile(plan Plan) string {
	var b strings.Builder

	fmt.Fprintf(&b, "FROM %s\n", BaseImages[plan.Runtime])
	b.WriteString("WORKDIR /app\n")
	b.WriteString("COPY . .\n")
	if cmd := strings.TrimSpace(plan.BuildCommand); cmd != "" {
		fmt.Fprintf(&b, "RUN %s\n", cmd)
	}
	fmt.Fprintf(&b, "ENV PORT=%d\n", DefaultPort)
	fmt.Fprintf(&b, "EXPOSE %d\n", DefaultPort)
	fmt.Fprintf(&b, "CMD %s\n", execForm(plan.StartCommand))

	return b.String()
}

// execForm quotes a shell command as a JSON exec-form instruction.
func execForm(command string) string {
	args, _ := json.Marshal([]string{"/bin/sh", "-c", command})
	return string(args)
}
