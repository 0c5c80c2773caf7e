package constant

// Version and CompileTime are set at build time via -ldflags.
var (
	Version     = "dev"
	CompileTime = "unknown"
)

const (
	// AttributionComment is embedded into every tagged file.
	AttributionComment = "Downloaded with hifidl"
)
