package resolver

import (
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var bundledDefaults []byte

// RunnerDefaults describes the bundled runner library. It is loaded once at
// process start and handed to the components that need it.
type RunnerDefaults struct {
	GroupID    string `yaml:"group_id"`
	ArtifactID string `yaml:"artifact_id"`
	Version    string `yaml:"version"`
	Packaging  string `yaml:"packaging"`
	EntryPoint string `yaml:"entry_point"`
}

type defaultsFile struct {
	Runner RunnerDefaults `yaml:"runner"`
}

// LoadDefaults parses the defaults bundled into the binary.
func LoadDefaults() (RunnerDefaults, error) {
	return parseDefaults(bundledDefaults)
}

func parseDefaults(data []byte) (RunnerDefaults, error) {
	var f defaultsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return RunnerDefaults{}, fmt.Errorf("failed to parse runner defaults: %w", err)
	}
	d := f.Runner
	if d.GroupID == "" || d.ArtifactID == "" || d.Version == "" {
		return RunnerDefaults{}, errors.New("runner defaults must set group_id, artifact_id and version")
	}
	if d.Packaging == "" {
		d.Packaging = DefaultPackaging
	}
	return d, nil
}

// Coordinate returns the default runner coordinate.
func (d RunnerDefaults) Coordinate() Coordinate {
	return Coordinate{
		GroupID:    d.GroupID,
		ArtifactID: d.ArtifactID,
		Version:    d.Version,
		Packaging:  d.Packaging,
	}
}

// RunnerCoordinate picks the runner coordinate for an invocation. An explicit
// coordinate replaces the bundled one; a version override wins over both.
func (d RunnerDefaults) RunnerCoordinate(coordinate, versionOverride string) (Coordinate, error) {
	c := d.Coordinate()
	if coordinate != "" {
		parsed, err := ParseCoordinate(coordinate)
		if err != nil {
			return Coordinate{}, err
		}
		if parsed.Version == "" {
			parsed.Version = d.Version
		}
		c = parsed
	}
	if versionOverride != "" {
		c = c.WithVersion(versionOverride)
	}
	return c, nil
}
