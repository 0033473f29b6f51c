package main

import (
	"fmt"
	"io"
	"runtime"

	"github.com/inferloop/mwem/internal/server"
)

var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = runtime.Version()
	Platform  = runtime.GOOS + "/" + runtime.GOARCH
)

func GetBuildInfo() server.BuildInfo {
	return server.BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
	}
}

func printVersion(w io.Writer) {
	info := GetBuildInfo()
	fmt.Fprintf(w, "Version: %s\n", info.Version)
	fmt.Fprintf(w, "Git Commit: %s\n", info.GitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", info.BuildDate)
	fmt.Fprintf(w, "Go Version: %s\n", info.GoVersion)
	fmt.Fprintf(w, "Platform: %s\n", Platform)
}
