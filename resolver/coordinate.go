package resolver

import (
	"fmt"
	"path"
	"strings"
)

const DefaultPackaging = "jar"

// Coordinate identifies an artifact in a Maven-layout repository.
type Coordinate struct {
	GroupID    string
	ArtifactID string
	Version    string
	Packaging  string
	Classifier string
}

// ParseCoordinate parses group:artifact[:packaging[:classifier]]:version.
// A two-part group:artifact form is accepted with an empty version, which the
// caller is expected to fill from the runner defaults.
func ParseCoordinate(s string) (Coordinate, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	for _, p := range parts {
		if p == "" {
			return Coordinate{}, fmt.Errorf("invalid coordinate %q: empty segment", s)
		}
	}
	var c Coordinate
	switch len(parts) {
	case 2:
		c = Coordinate{GroupID: parts[0], ArtifactID: parts[1]}
	case 3:
		c = Coordinate{GroupID: parts[0], ArtifactID: parts[1], Version: parts[2]}
	case 4:
		c = Coordinate{GroupID: parts[0], ArtifactID: parts[1], Packaging: parts[2], Version: parts[3]}
	case 5:
		c = Coordinate{GroupID: parts[0], ArtifactID: parts[1], Packaging: parts[2], Classifier: parts[3], Version: parts[4]}
	default:
		return Coordinate{}, fmt.Errorf("invalid coordinate %q: expected group:artifact[:packaging[:classifier]]:version", s)
	}
	if c.Packaging == "" {
		c.Packaging = DefaultPackaging
	}
	return c, nil
}

// WithVersion returns a copy of c using version v.
func (c Coordinate) WithVersion(v string) Coordinate {
	c.Version = v
	return c
}

func (c Coordinate) String() string {
	var b strings.Builder
	b.WriteString(c.GroupID)
	b.WriteByte(':')
	b.WriteString(c.ArtifactID)
	if c.Classifier != "" || c.extension() != DefaultPackaging {
		b.WriteByte(':')
		b.WriteString(c.extension())
	}
	if c.Classifier != "" {
		b.WriteByte(':')
		b.WriteString(c.Classifier)
	}
	b.WriteByte(':')
	b.WriteString(c.Version)
	return b.String()
}

// key identifies the artifact independent of its version, used for conflict
// mediation and exclusions.
func (c Coordinate) key() string {
	return c.GroupID + ":" + c.ArtifactID + ":" + c.extension() + ":" + c.Classifier
}

func (c Coordinate) pomCoordinate() Coordinate {
	return Coordinate{GroupID: c.GroupID, ArtifactID: c.ArtifactID, Version: c.Version, Packaging: "pom"}
}

func (c Coordinate) extension() string {
	switch c.Packaging {
	case "", "bundle", "maven-plugin", "ejb", "test-jar", "java-source", "javadoc":
		return DefaultPackaging
	default:
		return c.Packaging
	}
}

// hasFile reports whether the coordinate has a library file on the class path.
func (c Coordinate) hasFile() bool {
	return c.extension() != "pom"
}

// versionDir is the repository-relative directory holding all files of c.
func (c Coordinate) versionDir() string {
	return path.Join(c.artifactDir(), c.Version)
}

func (c Coordinate) artifactDir() string {
	return path.Join(append(strings.Split(c.GroupID, "."), c.ArtifactID)...)
}

// relativePath is the Maven-2 layout path of c's file, slash separated.
func (c Coordinate) relativePath() string {
	name := c.ArtifactID + "-" + c.Version
	if c.Classifier != "" {
		name += "-" + c.Classifier
	}
	return path.Join(c.versionDir(), name+"."+c.extension())
}
