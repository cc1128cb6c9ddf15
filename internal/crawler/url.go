package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DefaultBaseURL is the public chess.com API host.
const DefaultBaseURL = "https://api.chess.com"

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, sorts query
// parameters, strips the fragment, and drops a trailing slash on non-root paths.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
		u.RawPath = ""
	}

	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// ValidateTarget checks that raw is an absolute http(s) URL.
func ValidateTarget(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("target is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse target: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("target %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("target %q has no host", raw)
	}
	return nil
}

// PlayerStatsURL builds the per-player stats endpoint for a discovered player.
func PlayerStatsURL(base, player string) string {
	return strings.TrimRight(base, "/") + "/pub/player/" + url.PathEscape(player) + "/stats"
}

// CountryPlayersURL builds the players-by-country endpoint for an ISO code.
func CountryPlayersURL(base, iso string) string {
	return strings.TrimRight(base, "/") + "/pub/country/" + url.PathEscape(strings.ToUpper(iso)) + "/players"
}

// DefaultUserAgent mimics a desktop Edge browser. The API edge rejects
// requests that do not look like a browser.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36 Edg/123.0.0.0"
