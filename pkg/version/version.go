// Package version provides version metadata for the application.
package version

import (
	"fmt"
	"time"
)

// These variables are typically injected at build time using -ldflags
var (
	// Version holds the current version of regata.
	Version = "dev"
	// Commit holds the current version commit of regata.
	Commit = "none"
	// BuildDate holds the build date of regata.
	BuildDate = "unknown"
	// StartDate holds the start date of regata.
	StartDate = time.Now()
)

// Struct returns version information in a structured format.
type Struct struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
}

// Info returns a formatted version string.
func Info() string {
	return fmt.Sprintf("Regata %s (commit: %s, date: %s)", Version, Commit, BuildDate)
}

// Get returns version information as a Struct.
func Get() Struct {
	return Struct{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	}
}
