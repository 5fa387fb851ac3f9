// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package version

import "fmt"

var (
	// GitCommit is the revision that was compiled. Filled in by the linker.
	GitCommit string

	// Version is the main version number being run.
	Version = "0.9.0"

	// VersionPrerelease marks the version as pre-release. An empty string
	// means a final release; otherwise "dev", "beta", "rc1", etc.
	VersionPrerelease = "dev"
)

type VersionInfo struct {
	Revision          string
	Version           string
	VersionPrerelease string
}

func GetVersion() *VersionInfo {
	return &VersionInfo{
		Revision:          GitCommit,
		Version:           Version,
		VersionPrerelease: VersionPrerelease,
	}
}

func (c *VersionInfo) VersionNumber() string {
	version := c.Version
	if c.VersionPrerelease != "" {
		version = fmt.Sprintf("%s-%s", version, c.VersionPrerelease)
	}
	return version
}

func (c *VersionInfo) FullVersionNumber(rev bool) string {
	version := fmt.Sprintf("daqctl v%s", c.VersionNumber())
	if rev && c.Revision != "" {
		version = fmt.Sprintf("%s (%s)", version, c.Revision)
	}
	return version
}
