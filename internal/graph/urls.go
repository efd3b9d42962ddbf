package graph

import "strings"

// RepoNameFromURL derives the canonical repository name from a remote URL:
// the final path segment with any .git suffix stripped. Works for https,
// ssh and scp-like forms.
func RepoNameFromURL(url string) string {
	s := strings.TrimRight(strings.TrimSpace(url), "/")
	if i := strings.LastIndexAny(s, "/:"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(s, ".git")
}

// ResolveURL resolves a possibly-relative submodule URL against the parent
// repository's remote, the way git itself does: "./" keeps the parent URL as
// the base, each "../" drops one path segment from it.
func ResolveURL(parentURL, subURL string) string {
	if !strings.HasPrefix(subURL, "./") && !strings.HasPrefix(subURL, "../") {
		return subURL
	}

	base := strings.TrimRight(parentURL, "/")
	rest := subURL
	for {
		switch {
		case strings.HasPrefix(rest, "./"):
			rest = rest[2:]
		case strings.HasPrefix(rest, "../"):
			if i := strings.LastIndexAny(base, "/:"); i >= 0 {
				base = base[:i]
			}
			rest = rest[3:]
		default:
			return base + "/" + rest
		}
	}
}
