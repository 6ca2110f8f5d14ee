// Package version carries the build version, overridable at link time:
//
//	go build -ldflags "-X github.com/rekcod/rekcod/internal/version.Version=v1.2.3"
package version

var Version = "0.1.0-dev"
