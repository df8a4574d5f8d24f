package urlkit

import "strings"

// validSchemes is the fixed allow-list for outbound links. Anything else
// (javascript:, data:, vbscript:, ...) is rejected outright.
var validSchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"ftp":    true,
	"mailto": true,
}

// IsWebSafe reports whether raw can be handed to an HTTP client without
// risking parser disagreement. Browsers and URL libraries diverge on
// pathological inputs (leading slash runs, embedded control characters), and
// normalization can itself introduce or hide an unsafe form, so the check
// runs twice: once on the original string and once on its
// parse-serialize-reparse form. Both must pass.
func IsWebSafe(raw string) bool {
	parsed := Parse(raw)
	if !parsed.isWebSafe() {
		return false
	}
	return Parse(parsed.String()).isWebSafe()
}

func (u *URL) isWebSafe() bool {
	// Three or more leading slashes serve no purpose except confusing UAs.
	if strings.HasPrefix(u.Raw, "///") {
		return false
	}

	// Double-checking the above post-parse.
	if u.Host == "" && strings.HasPrefix(u.Path, "//") {
		return false
	}

	// A host-relative link with a scheme, like "https:/baz" or "https:?quux".
	if u.Scheme != "" && u.Host == "" {
		return false
	}

	// Embedded credentials in the authority.
	if u.hasCredentials {
		return false
	}

	if u.Scheme != "" && !validSchemes[strings.ToLower(u.Scheme)] {
		return false
	}

	return rawCharactersSafe(u.Raw)
}

// rawCharactersSafe scans for characters known to cause parsing differences
// between URL parser implementations: a leading ASCII space, C0 controls,
// backslash, and a number of Unicode space/separator code points.
// Non-breaking spaces show up legitimately in human-written path slugs, so
// they are tolerated at or after the third slash.
func rawCharactersSafe(raw string) bool {
	for i, r := range raw {
		switch {
		case r == '\x20':
			if i == 0 {
				return false
			}
		case r == '\u00a0':
			if strings.Count(raw[:i], "/") < 3 {
				return false
			}
		case problematicRune(r):
			return false
		}
	}
	return true
}

func problematicRune(r rune) bool {
	switch {
	case r <= '\x19':
		return true
	case r == '\\':
		return true
	case r == '\u1680', r == '\u180e':
		return true
	case r >= '\u2000' && r <= '\u2029':
		return true
	case r == '\u205f', r == '\u3000':
		return true
	}
	return false
}
