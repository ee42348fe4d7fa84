package version

// Version is overridden at build time:
//
//	go build -ldflags="-X 'liveclass/internal/version.Version=v1.0.0'" ./cmd/liveclass
var Version = "dev"
