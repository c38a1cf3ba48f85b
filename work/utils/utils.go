package utils

import (
	"net/url"
	"strings"

	"streamvault/work/config"
)

// LogURL returns either the original URL or an obfuscated version for
// logging, depending on configuration.
func LogURL(cfg *config.Config, url string) string {
	if cfg.ObfuscateUrls {
		return ObfuscateURL(url)
	}
	return url
}

// ObfuscateURL masks the path, query and fragment of a URL, keeping only
// scheme and host. Used to avoid leaking signed upstream URLs into logs.
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}
	return result
}

// ResolveReference resolves a playlist line against the manifest it came
// from: absolute URLs pass through, root-relative paths resolve against
// the manifest's origin, anything else resolves against the manifest's
// directory.
func ResolveReference(manifestURL, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}

	base, err := url.Parse(manifestURL)
	if err != nil {
		return ref
	}

	if strings.HasPrefix(ref, "/") {
		return base.Scheme + "://" + base.Host + ref
	}

	dir := base.String()
	if idx := strings.LastIndex(dir, "/"); idx != -1 {
		dir = dir[:idx+1]
	}
	return dir + ref
}

// IsIPLiteralHost reports whether host is a bare IPv4 address. Several
// upstream CDNs serve straight off an IP and require a pinned referer.
func IsIPLiteralHost(host string) bool {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}
