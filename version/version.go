package version

import (
	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
)

// will be replaced with the release version when using goreleaser
var version = "development"

// AgentVersion returns the release version of the agent and the update service
func AgentVersion() string {
	return version
}

// Compatible reports whether a peer announcing version other speaks the same protocol
// as this build. Development builds and unparsable versions are always compatible.
func Compatible(other string) bool {
	own, err := goversion.NewVersion(version)
	if err != nil {
		return true
	}
	peer, err := goversion.NewVersion(other)
	if err != nil {
		log.Debugf("ignoring unparsable peer version %q: %v", other, err)
		return true
	}
	return own.Segments()[0] == peer.Segments()[0]
}
