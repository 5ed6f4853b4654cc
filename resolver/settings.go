package resolver

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	CentralID  = "central"
	CentralURL = "https://repo.maven.apache.org/maven2"

	ChecksumFail   = "fail"
	ChecksumWarn   = "warn"
	ChecksumIgnore = "ignore"
)

// RemoteRepository is a Maven-layout repository reachable over HTTP(S) or file://.
type RemoteRepository struct {
	ID  string `toml:"id"`
	URL string `toml:"url"`
}

// Server holds credentials for repositories or mirrors with a matching ID.
type Server struct {
	ID       string            `toml:"id"`
	Username string            `toml:"username"`
	Password string            `toml:"password"`
	Headers  map[string]string `toml:"headers"`
}

// Mirror redirects requests for the repositories matched by MirrorOf.
type Mirror struct {
	ID       string `toml:"id"`
	URL      string `toml:"url"`
	MirrorOf string `toml:"mirror_of"`
}

type Proxy struct {
	ID            string `toml:"id"`
	Active        bool   `toml:"active"`
	Protocol      string `toml:"protocol"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Username      string `toml:"username"`
	Password      string `toml:"password"`
	NonProxyHosts string `toml:"non_proxy_hosts"`
}

// RepositorySettings is the read-only repository configuration of one invocation.
type RepositorySettings struct {
	LocalRepository string             `toml:"local_repository"`
	Offline         bool               `toml:"offline"`
	ForceUpdate     bool               `toml:"force_update"`
	ChecksumPolicy  string             `toml:"checksum_policy"`
	Repositories    []RemoteRepository `toml:"repositories"`
	Servers         []Server           `toml:"servers"`
	Mirrors         []Mirror           `toml:"mirrors"`
	Proxies         []Proxy            `toml:"proxies"`
}

// DefaultSettings returns settings pointing at ~/.m2/repository and Maven Central.
func DefaultSettings() RepositorySettings {
	s := RepositorySettings{}
	s.applyDefaults()
	return s
}

// LoadSettings reads repository settings from a TOML file. An empty path
// yields DefaultSettings.
func LoadSettings(path string) (RepositorySettings, error) {
	if path == "" {
		return DefaultSettings(), nil
	}
	var s RepositorySettings
	md, err := toml.DecodeFile(path, &s)
	if err != nil {
		return RepositorySettings{}, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return RepositorySettings{}, fmt.Errorf("unknown keys in settings file %s: %s", path, strings.Join(keys, ", "))
	}
	for i := range s.Servers {
		if s.Servers[i].Password, err = readFromEnvOrConfig(s.Servers[i].Password); err != nil {
			return RepositorySettings{}, fmt.Errorf("server %s: %w", s.Servers[i].ID, err)
		}
	}
	for i := range s.Proxies {
		if s.Proxies[i].Password, err = readFromEnvOrConfig(s.Proxies[i].Password); err != nil {
			return RepositorySettings{}, fmt.Errorf("proxy %s: %w", s.Proxies[i].ID, err)
		}
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return RepositorySettings{}, fmt.Errorf("invalid settings file %s: %w", path, err)
	}
	return s, nil
}

func (s *RepositorySettings) applyDefaults() {
	if s.LocalRepository == "" {
		if home, err := os.UserHomeDir(); err == nil {
			s.LocalRepository = filepath.Join(home, ".m2", "repository")
		}
	}
	if s.ChecksumPolicy == "" {
		s.ChecksumPolicy = ChecksumWarn
	}
	if len(s.Repositories) == 0 {
		s.Repositories = []RemoteRepository{{ID: CentralID, URL: CentralURL}}
	}
	for i := range s.Proxies {
		if s.Proxies[i].Protocol == "" {
			s.Proxies[i].Protocol = "http"
		}
	}
}

// Validate checks the settings for values the resolver cannot work with.
func (s RepositorySettings) Validate() error {
	if s.LocalRepository == "" {
		return errors.New("local repository path is required")
	}
	switch s.ChecksumPolicy {
	case ChecksumFail, ChecksumWarn, ChecksumIgnore:
	default:
		return fmt.Errorf("invalid checksum policy %q", s.ChecksumPolicy)
	}
	seen := make(map[string]bool)
	for _, r := range s.Repositories {
		if r.ID == "" || r.URL == "" {
			return errors.New("repositories need both id and url")
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate repository id %q", r.ID)
		}
		seen[r.ID] = true
		if _, err := url.Parse(r.URL); err != nil {
			return fmt.Errorf("repository %s: %w", r.ID, err)
		}
	}
	for _, m := range s.Mirrors {
		if m.ID == "" || m.URL == "" || m.MirrorOf == "" {
			return fmt.Errorf("mirror %q needs id, url and mirror_of", m.ID)
		}
	}
	for _, p := range s.Proxies {
		if p.Active && p.Host == "" {
			return fmt.Errorf("proxy %q is active but has no host", p.ID)
		}
	}
	return nil
}

// server returns the credentials registered for a repository or mirror id.
func (s RepositorySettings) server(id string) (Server, bool) {
	for _, srv := range s.Servers {
		if srv.ID == id {
			return srv, true
		}
	}
	return Server{}, false
}

// mirrorFor returns the first mirror whose mirror_of pattern matches repo.
func (s RepositorySettings) mirrorFor(repo RemoteRepository) (Mirror, bool) {
	for _, m := range s.Mirrors {
		if m.ID == repo.ID {
			continue
		}
		if matchesMirrorOf(m.MirrorOf, repo) {
			return m, true
		}
	}
	return Mirror{}, false
}

// effectiveRepositories applies mirrors to the configured repositories. Several
// repositories mirrored by the same mirror collapse into one entry.
func (s RepositorySettings) effectiveRepositories() []RemoteRepository {
	var out []RemoteRepository
	seen := make(map[string]bool)
	for _, r := range s.Repositories {
		eff := r
		if m, ok := s.mirrorFor(r); ok {
			eff = RemoteRepository{ID: m.ID, URL: m.URL}
		}
		if seen[eff.ID] {
			continue
		}
		seen[eff.ID] = true
		out = append(out, eff)
	}
	return out
}

// matchesMirrorOf implements the mirrorOf syntax: "*", "external:*", comma
// separated ids and "!id" exclusions.
func matchesMirrorOf(pattern string, repo RemoteRepository) bool {
	matched := false
	for _, p := range strings.Split(pattern, ",") {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
			continue
		case strings.HasPrefix(p, "!"):
			if p[1:] == repo.ID {
				return false
			}
		case p == "*":
			matched = true
		case p == "external:*":
			if !isLocalURL(repo.URL) {
				matched = true
			}
		case p == repo.ID:
			matched = true
		}
	}
	return matched
}

func isLocalURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme == "file" {
		return true
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// proxyFor returns the proxy URL to use for target, or nil for a direct connection.
func (s RepositorySettings) proxyFor(target *url.URL) *url.URL {
	for _, p := range s.Proxies {
		if !p.Active {
			continue
		}
		// An http proxy also tunnels https.
		if !strings.EqualFold(p.Protocol, target.Scheme) && !(p.Protocol == "http" && target.Scheme == "https") {
			continue
		}
		if nonProxyHost(p.NonProxyHosts, target.Hostname()) {
			return nil
		}
		u := &url.URL{Scheme: "http", Host: net.JoinHostPort(p.Host, strconv.Itoa(p.Port))}
		if p.Port == 0 {
			u.Host = p.Host
		}
		if p.Username != "" {
			u.User = url.UserPassword(p.Username, p.Password)
		}
		return u
	}
	return nil
}

// nonProxyHost matches host against a "|" separated list with "*" wildcards.
func nonProxyHost(list, host string) bool {
	for _, pattern := range strings.Split(list, "|") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if ok, _ := filepath.Match(strings.ToLower(pattern), strings.ToLower(host)); ok {
			return true
		}
	}
	return false
}

func readFromEnvOrConfig(value string) (string, error) {
	if strings.HasPrefix(value, "$") {
		envValue := os.Getenv(strings.TrimPrefix(value, "$"))
		if envValue == "" {
			return "", fmt.Errorf("config env var %s not found", value)
		}
		return envValue, nil
	}
	if strings.HasPrefix(value, "\\") {
		return strings.TrimPrefix(value, "\\"), nil
	}
	return value, nil
}
