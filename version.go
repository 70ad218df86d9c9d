package gbolt

import "fmt"

// Library version
const (
	// Major is the major version number
	Major = 0

	// Minor is the minor version number
	Minor = 1

	// Patch is the patch version number
	Patch = 0
)

// VersionInfo describes the library and the data file format it writes.
type VersionInfo struct {
	Major   uint8
	Minor   uint8
	Patch   uint8
	Format  uint32 // on-disk format version stored in every meta page
	Magic   uint32
	Release string
}

// VersionString returns a human readable version string.
func VersionString() string {
	return fmt.Sprintf("gbolt %d.%d.%d (format %d)", Major, Minor, Patch, Version)
}

// GetVersionInfo returns version information.
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Major:   Major,
		Minor:   Minor,
		Patch:   Patch,
		Format:  Version,
		Magic:   Magic,
		Release: fmt.Sprintf("v%d.%d.%d", Major, Minor, Patch),
	}
}
