package parse

import (
	"net"
	"net/url"
	"path"
	"strings"
)

// skippableExtensions are never crawled nor treated as images
var skippableExtensions = map[string]bool{
	"pdf": true, "zip": true, "css": true, "js": true, "ico": true,
}

// NormalizeURL standardizes a URL for the visited set.
// It lowercases the scheme and host, removes default ports, turns an empty path into "/" and drops the fragment.
// The query string and trailing slashes are kept: they can address distinct pages.
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	normalized := *u
	normalized.User = nil

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = stripDefaultPort(normalized.Scheme, strings.ToLower(normalized.Host))

	if normalized.Path == "" && normalized.Opaque == "" {
		normalized.Path = "/"
	}
	normalized.Fragment = ""
	normalized.RawFragment = ""

	return normalized.String()
}

func stripDefaultPort(scheme, hostport string) string {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return hostport
}

// ParseAndNormalize parses an absolute URL string (scheme required) and normalizes it.
// Returns the normalized string, the parsed URL object, and any parse error
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(urlStr)
	if err != nil {
		return "", nil, err
	}
	return NormalizeURL(parsed), parsed, nil
}

// Resolve resolves ref against base. Leading/trailing whitespace in ref is ignored.
func Resolve(base *url.URL, ref string) (*url.URL, error) {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(r), nil
}

// SameOrigin reports whether a and b share scheme, host and effective port.
func SameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		stripDefaultPort(strings.ToLower(a.Scheme), strings.ToLower(a.Host)) ==
			stripDefaultPort(strings.ToLower(b.Scheme), strings.ToLower(b.Host))
}

// IsHTTP reports whether u uses http or https.
func IsHTTP(u *url.URL) bool {
	s := strings.ToLower(u.Scheme)
	return s == "http" || s == "https"
}

// IsSkippable reports whether the path ends in an extension that is never a page or image (pdf, zip, css, js, ico).
func IsSkippable(u *url.URL) bool {
	ext := strings.TrimPrefix(path.Ext(strings.ToLower(u.Path)), ".")
	return skippableExtensions[ext]
}

// DownloadKey identifies an image for download dedupe: origin plus path, query ignored.
// Unparseable input is returned as-is.
func DownloadKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	return strings.ToLower(u.Scheme) + "://" + stripDefaultPort(strings.ToLower(u.Scheme), strings.ToLower(u.Host)) + p
}

// LastPathSegment returns the final non-empty path segment, percent-decoded when possible.
func LastPathSegment(u *url.URL) string {
	segments := strings.Split(u.EscapedPath(), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] == "" {
			continue
		}
		if decoded, err := url.PathUnescape(segments[i]); err == nil {
			return decoded
		}
		return segments[i]
	}
	return ""
}
