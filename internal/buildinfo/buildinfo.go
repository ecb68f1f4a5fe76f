// Package buildinfo carries build-time metadata injected through ldflags.
package buildinfo

import "runtime"

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// New fills unknown values and records the Go runtime version.
func New(version, buildDate string) Info {
	return Info{
		Version:   valueOrUnknown(version),
		BuildDate: valueOrUnknown(buildDate),
		GoVersion: runtime.Version(),
	}
}

// String renders the info for --version output.
func (i Info) String() string {
	return i.Version + " (built " + i.BuildDate + ", " + i.GoVersion + ")"
}

func valueOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
