/*
Package version provides build information for personalize.

Values are injected by cmd/personalize from ldflags:

	go build -ldflags "-X main.buildVersion=v0.3.0 -X main.commit=$(git rev-parse --short HEAD) -X main.date=$(date -u +%F)"

An unstamped binary reports itself as a development build.
*/
package version

// Build information, overwritten at startup from ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info is the build information in a serializable form.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Current returns the running binary's build information.
func Current() Info {
	return Info{Version: Version, Commit: Commit, Date: Date}
}

// Dev reports whether the binary was built without version stamping.
func (i Info) Dev() bool {
	return i.Version == "dev"
}

// String formats the build information for --version output.
func (i Info) String() string {
	if i.Dev() {
		return i.Version + " (development build)"
	}
	return i.Version + " (commit: " + i.Commit + ", built: " + i.Date + ")"
}

// GetVersion returns the formatted build information.
func GetVersion() string {
	return Current().String()
}
