package resolver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gofrs/flock"

	"github.com/ethereum-optimism/infra/op-testrunner/metrics"
)

const (
	lockRetryDelay   = 50 * time.Millisecond
	downloadTempGlob = ".download-*"
)

// transport moves files between remote repositories and the local repository.
type transport struct {
	settings RepositorySettings
	local    string
	remotes  []RemoteRepository
	client   *http.Client
	log      log.Logger
}

func newTransport(settings RepositorySettings, client *http.Client, logger log.Logger) (*transport, error) {
	local, err := filepath.Abs(settings.LocalRepository)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve local repository path %s: %w", settings.LocalRepository, err)
	}
	if client == nil {
		client = &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				Proxy: func(req *http.Request) (*url.URL, error) {
					return settings.proxyFor(req.URL), nil
				},
			},
		}
	}
	return &transport{
		settings: settings,
		local:    local,
		remotes:  settings.effectiveRepositories(),
		client:   client,
		log:      logger,
	}, nil
}

func (t *transport) localPath(rel string) string {
	return filepath.Join(t.local, filepath.FromSlash(rel))
}

// get returns the local path of the repository file rel, downloading it when
// it is missing or when a forced update was requested.
func (t *transport) get(ctx context.Context, rel string) (string, error) {
	target := t.localPath(rel)
	cached := fileExists(target)
	if cached && !(t.settings.ForceUpdate && !t.settings.Offline) {
		return target, nil
	}
	if t.settings.Offline {
		return "", fmt.Errorf("%s: %w", rel, ErrOffline)
	}

	err := t.download(ctx, rel, target, !cached)
	if err == nil {
		return target, nil
	}
	if cached {
		t.log.Warn("Update failed, using cached copy", "file", rel, "err", err)
		return target, nil
	}
	return "", err
}

// download tries every effective remote in order until one serves rel.
func (t *transport) download(ctx context.Context, rel, target string, onlyIfMissing bool) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", rel, err)
	}
	lock := flock.New(target + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return fmt.Errorf("failed to lock %s: %w", target, errors.Join(err, ctx.Err()))
	}
	// The lock file stays behind: removing it would race with other waiters.
	defer func() { _ = lock.Unlock() }()

	// another process may have completed the download while we waited
	if onlyIfMissing && fileExists(target) {
		return nil
	}

	var causes []error
	for _, repo := range t.remotes {
		err := t.downloadFrom(ctx, repo, rel, target)
		if err == nil {
			metrics.RecordArtifactDownload(repo.ID)
			return nil
		}
		t.log.Debug("Repository did not serve file", "repository", repo.ID, "file", rel, "err", err)
		causes = append(causes, fmt.Errorf("%s from %s (%s): %w", rel, repo.ID, repo.URL, err))
	}
	if len(causes) == 0 {
		return fmt.Errorf("%s: no remote repositories configured", rel)
	}
	return errors.Join(causes...)
}

func (t *transport) downloadFrom(ctx context.Context, repo RemoteRepository, rel, target string) error {
	body, err := t.open(ctx, repo, rel)
	if err != nil {
		return err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(target), downloadTempGlob)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	digest := sha1.New()
	if _, err := io.Copy(io.MultiWriter(tmp, digest), body); err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := t.verifyChecksum(ctx, repo, rel, digest); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	return nil
}

func (t *transport) verifyChecksum(ctx context.Context, repo RemoteRepository, rel string, digest hash.Hash) error {
	if t.settings.ChecksumPolicy == ChecksumIgnore {
		return nil
	}
	body, err := t.open(ctx, repo, rel+".sha1")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			t.log.Debug("No checksum published", "repository", repo.ID, "file", rel)
			return nil
		}
		return t.checksumProblem(fmt.Errorf("failed to fetch checksum for %s: %w", rel, err))
	}
	defer body.Close()
	raw, err := io.ReadAll(io.LimitReader(body, 1024))
	if err != nil {
		return t.checksumProblem(fmt.Errorf("failed to read checksum for %s: %w", rel, err))
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return t.checksumProblem(fmt.Errorf("empty checksum for %s", rel))
	}
	expected := strings.ToLower(fields[0])
	actual := hex.EncodeToString(digest.Sum(nil))
	if expected != actual {
		return t.checksumProblem(fmt.Errorf("checksum mismatch for %s: expected %s, got %s", rel, expected, actual))
	}
	return nil
}

func (t *transport) checksumProblem(err error) error {
	if t.settings.ChecksumPolicy == ChecksumFail {
		return err
	}
	t.log.Warn("Checksum verification problem", "err", err)
	return nil
}

// open starts reading rel from repo. Missing files yield ErrNotFound.
func (t *transport) open(ctx context.Context, repo RemoteRepository, rel string) (io.ReadCloser, error) {
	base, err := url.Parse(strings.TrimSuffix(repo.URL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid repository url %s: %w", repo.URL, err)
	}
	u := base.JoinPath(rel)

	if u.Scheme == "file" {
		f, err := os.Open(filepath.FromSlash(u.Path))
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return f, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if srv, ok := t.settings.server(repo.ID); ok {
		if srv.Username != "" {
			req.SetBasicAuth(srv.Username, srv.Password)
		}
		for k, v := range srv.Headers {
			req.Header.Set(k, v)
		}
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		_ = resp.Body.Close()
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

// refreshMetadata downloads maven-metadata.xml of an artifact from every remote
// into per-repository files, ignoring repositories that do not have it.
func (t *transport) refreshMetadata(ctx context.Context, c Coordinate) {
	if t.settings.Offline {
		return
	}
	rel := c.artifactDir() + "/maven-metadata.xml"
	for _, repo := range t.remotes {
		target := t.localPath(c.artifactDir() + "/maven-metadata-" + repo.ID + ".xml")
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			t.log.Warn("Failed to create metadata directory", "err", err)
			return
		}
		if err := t.downloadFrom(ctx, repo, rel, target); err != nil {
			t.log.Debug("Metadata not available", "repository", repo.ID, "artifact", c.artifactDir(), "err", err)
		}
	}
}

// availableVersions lists the versions known locally for c: those named by any
// cached metadata file plus version directories that hold a POM.
func (t *transport) availableVersions(c Coordinate) []string {
	dir := t.localPath(c.artifactDir())
	seen := make(map[string]bool)
	var versions []string
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			versions = append(versions, v)
		}
	}

	metaFiles, _ := filepath.Glob(filepath.Join(dir, "maven-metadata*.xml"))
	for _, path := range metaFiles {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		md, err := parseMetadata(f)
		_ = f.Close()
		if err != nil {
			t.log.Warn("Ignoring unreadable metadata", "file", path, "err", err)
			continue
		}
		for _, v := range md.Versioning.Versions {
			add(strings.TrimSpace(v))
		}
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if fileExists(t.localPath(c.WithVersion(e.Name()).pomCoordinate().relativePath())) {
			add(e.Name())
		}
	}
	return versions
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
