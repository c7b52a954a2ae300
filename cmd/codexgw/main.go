// Package main is the entry point for codexgw.
//
//	@title			codexgw API
//	@version		1.0
//	@description	Single-host gateway for interactive coding-assistant sessions.
//	@description	Exposes session lifecycle, journal streaming and PTY access over HTTP, SSE and WebSockets.
//
//	@contact.name	codexgw
//	@contact.url	https://github.com/relaybridge/codexgw
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:7890
//	@BasePath	/
//	@schemes	http
//
//	@tag.name			health
//	@tag.description	Health check endpoints
//	@tag.name			sessions
//	@tag.description	Exec-provider session lifecycle and messaging
//	@tag.name			stream
//	@tag.description	Journal replay and live SSE streaming
//	@tag.name			pty
//	@tag.description	Interactive PTY sessions
//	@tag.name			images
//	@tag.description	Image upload for message attachments
//	@tag.name			diagnostics
//	@tag.description	Gateway diagnostics
package main

import (
	"fmt"
	"os"

	"github.com/relaybridge/codexgw/cmd/codexgw/cmd"

	_ "github.com/relaybridge/codexgw/api/swagger" // swagger docs
)

// Version information (set by ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cmd.SetVersionInfo(Version, BuildTime, GitCommit)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
