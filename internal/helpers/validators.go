package helpers

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidIdentifier reports whether a name is safe to use as a deployment or
// service identifier. Only alphanumeric characters, hyphens and underscores
// are allowed.
func IsValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// IsValidURL checks that a string parses as an absolute http(s) URL.
func IsValidURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q is missing a host", raw)
	}
	return nil
}

// NormalizeServerURL canonicalizes a rewindd server URL so the same server
// always maps to the same saved entry. A missing scheme defaults to http for
// loopback addresses and https for everything else.
func NormalizeServerURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("server URL cannot be empty")
	}
	if !strings.Contains(raw, "://") {
		if isLoopbackHost(strings.SplitN(raw, "/", 2)[0]) {
			raw = "http://" + raw
		} else {
			raw = "https://" + raw
		}
	}
	if err := IsValidURL(raw); err != nil {
		return "", err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

func isLoopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// IsValidPort checks that a string is a usable TCP port number.
func IsValidPort(port string) error {
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port %q is not a number", port)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("port %d is out of range (1-65535)", n)
	}
	return nil
}
