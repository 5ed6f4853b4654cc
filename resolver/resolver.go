// Package resolver resolves a library coordinate and its transitive dependencies
// from Maven-layout repositories into an ordered list of local files.
//
// Resolution follows the rules a JVM build would apply when the coordinate is
// declared as a runtime dependency:
//   - compile and runtime scoped dependencies are followed, others are not
//   - optional dependencies of dependencies are skipped
//   - exclusions apply to the whole subtree below the declaring dependency
//   - the nearest declaration of an artifact wins, then the first one declared
//   - dependency management of the root artifact overrides transitive versions
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"

	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultDownloadConcurrency = 4
	DefaultModelCacheSize      = 512

	maxParentDepth = 32
)

var _ Resolver = (*MavenResolver)(nil)

// Resolver turns a coordinate into the ordered files of its transitive closure.
type Resolver interface {
	Resolve(ctx context.Context, c Coordinate, settings RepositorySettings) ([]string, error)
}

// Config holds configuration for creating a MavenResolver
type Config struct {
	Log                 log.Logger
	HTTPClient          *http.Client // optional, built from the repository settings when nil
	DownloadConcurrency int
	ModelCacheSize      int
}

// MavenResolver resolves coordinates against Maven-2 layout repositories.
type MavenResolver struct {
	log         log.Logger
	client      *http.Client
	concurrency int
	models      *lru.Cache[string, *model]
	tracer      trace.Tracer
}

// NewMavenResolver creates a new resolver instance
func NewMavenResolver(cfg Config) (*MavenResolver, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.DownloadConcurrency <= 0 {
		cfg.DownloadConcurrency = DefaultDownloadConcurrency
	}
	if cfg.ModelCacheSize <= 0 {
		cfg.ModelCacheSize = DefaultModelCacheSize
	}
	models, err := lru.New[string, *model](cfg.ModelCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create POM cache: %w", err)
	}
	return &MavenResolver{
		log:         cfg.Log,
		client:      cfg.HTTPClient,
		concurrency: cfg.DownloadConcurrency,
		models:      models,
		tracer:      otel.Tracer("resolver"),
	}, nil
}

// Resolve implements the Resolver interface. The first returned path is the
// file of c itself, followed by its dependencies in breadth-first order.
func (r *MavenResolver) Resolve(ctx context.Context, c Coordinate, settings RepositorySettings) ([]string, error) {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("resolve %s", c))
	defer span.End()

	if c.GroupID == "" || c.ArtifactID == "" || c.Version == "" {
		return nil, newResolutionError(c, errors.New("coordinate needs group, artifact and version"))
	}
	if c.Packaging == "" {
		c.Packaging = DefaultPackaging
	}
	settings.Proxies = slices.Clone(settings.Proxies)
	settings.applyDefaults()
	if err := settings.Validate(); err != nil {
		return nil, newResolutionError(c, fmt.Errorf("invalid repository settings: %w", err))
	}
	t, err := newTransport(settings, r.client, r.log)
	if err != nil {
		return nil, newResolutionError(c, err)
	}

	r.log.Debug("Resolving dependencies", "coordinate", c, "localRepository", t.local,
		"offline", settings.Offline, "forceUpdate", settings.ForceUpdate)

	s := &session{ctx: ctx, resolver: r, transport: t}
	graph, err := s.collect(c)
	if err != nil {
		return nil, newResolutionError(c, flatten(err)...)
	}
	files, err := s.fetchFiles(graph)
	if err != nil {
		return nil, newResolutionError(c, flatten(err)...)
	}
	if len(files) == 0 {
		return nil, newResolutionError(c, errors.New("resolution produced no library files"))
	}

	r.log.Info("Resolved dependencies", "coordinate", c, "artifacts", len(graph), "files", len(files))
	return files, nil
}

// session holds the state of a single Resolve call.
type session struct {
	ctx       context.Context
	resolver  *MavenResolver
	transport *transport
}

type pending struct {
	coordinate Coordinate
	depth      int
	exclusions []pomExclusion
}

func (s *session) collect(root Coordinate) ([]Coordinate, error) {
	var (
		order       []Coordinate
		selected    = make(map[string]bool)
		rootManaged map[string]pomDependency
		queue       = []pending{{coordinate: root}}
	)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		key := n.coordinate.key()
		if selected[key] {
			continue
		}
		c, err := s.selectVersion(n.coordinate)
		if err != nil {
			return nil, err
		}
		selected[key] = true
		order = append(order, c)

		m, err := s.model(c)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		if n.depth == 0 {
			rootManaged = m.managed
		}

		for _, d := range m.dependencies {
			dc := d.coordinate()
			scope := d.scope()
			if n.depth > 0 {
				if md, ok := rootManaged[d.managementKey()]; ok {
					if md.Version != "" {
						dc.Version = md.Version
					}
					if md.Scope != "" {
						scope = md.Scope
					}
				}
			}
			if scope != "compile" && scope != "runtime" {
				continue
			}
			if d.optional() || excluded(n.exclusions, dc) {
				continue
			}
			if dc.Version == "" {
				return nil, fmt.Errorf("dependency %s:%s of %s has no version", dc.GroupID, dc.ArtifactID, c)
			}
			exclusions := slices.Concat(n.exclusions, d.Exclusions)
			queue = append(queue, pending{coordinate: dc, depth: n.depth + 1, exclusions: exclusions})
		}
	}
	return order, nil
}

func excluded(exclusions []pomExclusion, c Coordinate) bool {
	for _, e := range exclusions {
		if e.matches(c) {
			return true
		}
	}
	return false
}

func (s *session) selectVersion(c Coordinate) (Coordinate, error) {
	if !needsVersionSelection(c.Version) {
		return c, nil
	}
	s.transport.refreshMetadata(s.ctx, c)
	v, ok := selectVersion(c.Version, s.transport.availableVersions(c))
	if !ok {
		return Coordinate{}, fmt.Errorf("no version of %s:%s matches %s", c.GroupID, c.ArtifactID, c.Version)
	}
	s.resolver.log.Debug("Selected version", "artifact", c.GroupID+":"+c.ArtifactID, "requested", c.Version, "selected", v)
	return c.WithVersion(v), nil
}

// model returns the effective model of c, or nil when c publishes no POM.
func (s *session) model(c Coordinate) (*model, error) {
	return s.loadModel(c.pomCoordinate(), 0)
}

func (s *session) loadModel(c Coordinate, depth int) (*model, error) {
	if depth > maxParentDepth {
		return nil, fmt.Errorf("POM hierarchy of %s is deeper than %d levels", c, maxParentDepth)
	}
	cacheKey := s.transport.local + "|" + c.String()
	if m, ok := s.resolver.models.Get(cacheKey); ok {
		return m, nil
	}

	path, err := s.transport.get(s.ctx, c.relativePath())
	if err != nil {
		// Parents and BOMs are required, a missing POM of a library is not.
		if depth == 0 && missingEverywhere(err) {
			s.resolver.log.Warn("POM is missing, no dependency information available", "coordinate", c)
			return nil, nil
		}
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open POM of %s: %w", c, err)
	}
	raw, err := parsePOM(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c, err)
	}

	var parent *model
	if p := raw.Parent; p != nil {
		pc := Coordinate{GroupID: p.GroupID, ArtifactID: p.ArtifactID, Version: p.Version, Packaging: "pom"}
		parent, err = s.loadModel(pc, depth+1)
		if err != nil {
			return nil, fmt.Errorf("failed to load parent %s of %s: %w", pc, c, err)
		}
	}
	m := inherit(raw, parent)
	for _, imp := range m.bomImports() {
		bc := imp.coordinate()
		bom, err := s.loadModel(bc, depth+1)
		if err != nil {
			return nil, fmt.Errorf("failed to import %s into %s: %w", bc, c, err)
		}
		m.importBOM(bom)
	}
	m.applyManagement()

	s.resolver.models.Add(cacheKey, m)
	return m, nil
}

// fetchFiles downloads the files of the collected graph concurrently and
// returns their local paths in graph order.
func (s *session) fetchFiles(graph []Coordinate) ([]string, error) {
	paths := make([]string, len(graph))
	errs := make([]error, len(graph))

	p := pool.New().WithMaxGoroutines(s.resolver.concurrency)
	for i, c := range graph {
		if !c.hasFile() {
			continue
		}
		p.Go(func() {
			paths[i], errs[i] = s.transport.get(s.ctx, c.relativePath())
		})
	}
	p.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	files := make([]string, 0, len(paths))
	for _, path := range paths {
		if path != "" {
			files = append(files, path)
		}
	}
	return files, nil
}

// missingEverywhere reports whether every cause of err says the file does not
// exist. A single repository failing for another reason is not a missing file.
func missingEverywhere(err error) bool {
	for _, cause := range flatten(err) {
		if !errors.Is(cause, ErrNotFound) && !errors.Is(cause, ErrOffline) {
			return false
		}
	}
	return true
}

// flatten expands joined errors so each cause is reported separately.
func flatten(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []error{err}
}
