package version

var (
	// GitVersion is the git version of the build. It is set by the linker.
	GitVersion = "unknown"
	// GitCommit is the git commit hash of the build. It is set by the linker.
	GitCommit = "unknown"
	// BuildDate is the UTC build timestamp. It is set by the linker.
	BuildDate = "unknown"
)
