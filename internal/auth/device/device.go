// Package device turns User-Agent strings into session display names and
// coarse fingerprints used to notice a session moving between devices.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mssola/useragent"
)

type Service struct {
	fingerprintEnabled bool
}

func NewService(fingerprintEnabled bool) *Service {
	return &Service{fingerprintEnabled: fingerprintEnabled}
}

// ParseUserAgent returns a display name such as "Chrome on Intel Mac OS X 10_15_7".
func ParseUserAgent(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return "Unknown Device"
	}

	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	browser = strings.TrimSpace(browser)
	if browser == "" {
		browser = "Unknown Browser"
	}

	os := strings.TrimSpace(ua.OS())
	if os == "" {
		os = strings.TrimSpace(ua.Platform())
	}
	if os == "" {
		os = "Unknown OS"
	}

	return browser + " on " + os
}

// ComputeFingerprint hashes the browser name, its major version and the OS
// family. Minor browser updates keep the fingerprint; a major one changes it.
func (s *Service) ComputeFingerprint(userAgent string) string {
	if !s.fingerprintEnabled || userAgent == "" {
		return ""
	}

	ua := useragent.New(userAgent)
	browser, version := ua.Browser()
	major, _, _ := strings.Cut(version, ".")

	parts := []string{
		browser,
		major,
		ua.Platform(),
		ua.OSInfo().Name,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// CompareFingerprints reports whether the fingerprints match and whether a
// stored fingerprint drifted. An empty stored value never counts as drift.
func (s *Service) CompareFingerprints(stored, current string) (matched bool, drift bool) {
	if stored == "" || current == "" {
		return true, false
	}
	matched = stored == current
	return matched, !matched
}
