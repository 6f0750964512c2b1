package anvil

import (
	"net/url"
	"strings"
)

// NormalizeURL returns the canonical form of a repository locator so that
// all notations for the same repository compare equal in the index:
//
//	git@github.com:User/Repo.git -> https://github.com/User/Repo
//	ssh://git@github.com/User/Repo -> https://github.com/User/Repo
//	https://GitHub.com/User/Repo/ -> https://github.com/User/Repo
//
// The host is lower-cased, the path is preserved as written apart from a
// stripped ".git" suffix and trailing slash. Pure and idempotent; never
// touches the network.
func NormalizeURL(raw string) string {
	if raw == "" {
		return raw
	}
	s := strings.TrimSpace(raw)

	// ssh scp-like form: user@host:path
	if !strings.Contains(s, "://") {
		if at := strings.Index(s, "@"); at > 0 {
			if colon := strings.Index(s[at:], ":"); colon > 0 {
				host := s[at+1 : at+colon]
				path := s[at+colon+1:]
				s = "https://" + host + "/" + strings.TrimPrefix(path, "/")
			}
		}
	}

	// ssh://[user@]host/path
	if strings.HasPrefix(s, "ssh://") {
		if u, err := url.Parse(s); err == nil && u.Hostname() != "" {
			s = "https://" + u.Hostname() + u.Path
		}
	}

	// Canonical http(s) reconstruction: lower-case host, keep path case.
	if u, err := url.Parse(s); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		path := strings.TrimSuffix(u.Path, "/")
		path = strings.TrimSuffix(path, ".git")
		s = "https://" + strings.ToLower(u.Host) + path
	}

	s = strings.TrimSuffix(s, ".git")
	s = strings.TrimSuffix(s, "/")
	return s
}
