// Package urlkit provides a tolerant URL model for inspecting and rewriting
// URLs found in scraped pages, plus the safety checks run before any of them
// is dereferenced over the network.
package urlkit

import (
	"net/url"
	"strings"
)

// Param is a single decoded query parameter.
type Param struct {
	Key   string
	Value string
}

// URL is a structured decomposition of a URL. Unlike net/url.URL it never
// fails to construct: unparseable input yields a URL with empty fields and
// only Raw populated. Query parameters are percent-decoded once at
// construction; String rebuilds the query from them.
type URL struct {
	Scheme   string
	Host     string
	Port     string
	Path     string
	Params   string // path parameters after ';' in the final segment
	Fragment string

	Raw string

	hasCredentials bool
	query          []Param
}

// Parse decomposes raw into a URL. It never fails; inputs the underlying
// parser rejects come back with empty fields so callers can still run the
// raw-string safety checks.
func Parse(raw string) *URL {
	out := &URL{Raw: raw}
	u, err := url.Parse(raw)
	if err != nil {
		return out
	}
	out.Scheme = u.Scheme
	out.Host = u.Hostname()
	out.Port = u.Port()
	out.Fragment = u.Fragment
	out.hasCredentials = u.User != nil
	path := u.Path
	if u.Opaque != "" {
		// Opaque forms like mailto:user@example.com carry their target in
		// the path position.
		path = u.Opaque
	}
	out.Path, out.Params = splitPathParams(path)
	out.query = parseQuery(u.RawQuery)
	return out
}

// splitPathParams separates ;-style parameters from the final path segment.
func splitPathParams(path string) (string, string) {
	slash := strings.LastIndex(path, "/")
	if i := strings.Index(path[slash+1:], ";"); i >= 0 {
		cut := slash + 1 + i
		return path[:cut], path[cut+1:]
	}
	return path, ""
}

// parseQuery decodes a raw query string into ordered parameters. Pairs whose
// key or value fail percent-decoding are dropped rather than reported.
func parseQuery(rawQuery string) []Param {
	if rawQuery == "" {
		return nil
	}
	var params []Param
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			continue
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			continue
		}
		setParam(&params, key, value)
	}
	return params
}

func setParam(params *[]Param, key, value string) {
	for i := range *params {
		if (*params)[i].Key == key {
			(*params)[i].Value = value
			return
		}
	}
	*params = append(*params, Param{Key: key, Value: value})
}

// SetScheme rewrites only the scheme. It is how protocol-relative URLs
// ("//host/path") inherit the scheme of the page that referenced them.
func (u *URL) SetScheme(scheme string) *URL {
	u.Scheme = scheme
	return u
}

// SetQueryParam adds or replaces a query parameter, preserving the position
// of an existing key.
func (u *URL) SetQueryParam(key, value string) *URL {
	setParam(&u.query, key, value)
	return u
}

// QueryParams returns the decoded query parameters in order.
func (u *URL) QueryParams() []Param {
	out := make([]Param, len(u.query))
	copy(out, u.query)
	return out
}

// QueryValue returns the value for key and whether it is present.
func (u *URL) QueryValue(key string) (string, bool) {
	for _, p := range u.query {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Extension returns the extension of the final path component, without the
// dot, or "" when the path does not end in a file with one.
func (u *URL) Extension() string {
	filename := u.Path[strings.LastIndex(u.Path, "/")+1:]
	dot := strings.LastIndex(filename, ".")
	if dot < 0 {
		return ""
	}
	return filename[dot+1:]
}

// SetExtension replaces the extension of the final path component with ext
// (no dot). An empty ext removes the extension entirely.
func (u *URL) SetExtension(ext string) *URL {
	slash := strings.LastIndex(u.Path, "/")
	dir, filename := u.Path[:slash+1], u.Path[slash+1:]
	if dot := strings.LastIndex(filename, "."); dot >= 0 {
		filename = filename[:dot]
	}
	if ext != "" {
		filename += "." + ext
	}
	u.Path = dir + filename
	return u
}

// Netloc returns "host:port", or just the host, or "" without one.
func (u *URL) Netloc() string {
	if u.Host == "" {
		return ""
	}
	if u.Port != "" {
		return u.Host + ":" + u.Port
	}
	return u.Host
}

// String reconstructs the URL. Doubled slashes in the path collapse to one,
// a host without a scheme gets "http", and the query string is rebuilt from
// the decoded parameters with re-escaping applied.
func (u *URL) String() string {
	scheme := u.Scheme
	netloc := u.Netloc()
	if netloc != "" && scheme == "" {
		scheme = "http"
	}

	path := strings.ReplaceAll(u.Path, "//", "/")

	var b strings.Builder
	if scheme != "" {
		b.WriteString(scheme)
		b.WriteByte(':')
	}
	if netloc != "" {
		b.WriteString("//")
		b.WriteString(netloc)
		if path != "" && !strings.HasPrefix(path, "/") {
			b.WriteByte('/')
		}
	}
	b.WriteString(path)
	if u.Params != "" {
		b.WriteByte(';')
		b.WriteString(u.Params)
	}
	if q := encodeQuery(u.query); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.Fragment)
	}
	return b.String()
}

func encodeQuery(params []Param) string {
	if len(params) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(params))
	for _, p := range params {
		pairs = append(pairs, url.QueryEscape(p.Key)+"="+url.QueryEscape(p.Value))
	}
	return strings.Join(pairs, "&")
}

// CoerceScheme rewrites the scheme of an absolute (but possibly
// protocol-relative) URL and returns the serialized result.
func CoerceScheme(raw, scheme string) string {
	return Parse(raw).SetScheme(scheme).String()
}
