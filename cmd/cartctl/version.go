package main

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// checkCompatible reports whether this client can drive a daemon at
// daemonVersion. Versions must share a major version; pre-1.0 releases must
// also share the minor version. Non-semver builds ("dev") are not checked.
func checkCompatible(clientVersion, daemonVersion string) error {
	cv, dv := normalizeVersion(clientVersion), normalizeVersion(daemonVersion)
	if !semver.IsValid(cv) || !semver.IsValid(dv) {
		return nil
	}

	if semver.Major(cv) != semver.Major(dv) {
		return fmt.Errorf("cartctl %s is incompatible with cartsyncd %s (major version differs)", clientVersion, daemonVersion)
	}
	if semver.Major(cv) == "v0" && semver.MajorMinor(cv) != semver.MajorMinor(dv) {
		return fmt.Errorf("cartctl %s is incompatible with cartsyncd %s (pre-1.0 minor version differs)", clientVersion, daemonVersion)
	}
	return nil
}

// normalizeVersion adds "v" prefix if needed for semver parsing.
func normalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}
