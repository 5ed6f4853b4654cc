package resolver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParsePOM(t *testing.T, content string) *pomProject {
	t.Helper()
	p, err := parsePOM(strings.NewReader(content))
	require.NoError(t, err)
	return p
}

func TestParsePOM(t *testing.T) {
	p := mustParsePOM(t, `<?xml version="1.0"?>
<project xmlns="http://maven.apache.org/POM/4.0.0">
  <modelVersion>4.0.0</modelVersion>
  <groupId>g</groupId>
  <artifactId>a</artifactId>
  <version>1.0</version>
  <properties>
    <dep.version> 2.1 </dep.version>
    <project.build.sourceEncoding>UTF-8</project.build.sourceEncoding>
  </properties>
  <dependencies>
    <dependency>
      <groupId>g</groupId>
      <artifactId>dep</artifactId>
      <version>${dep.version}</version>
      <optional>true</optional>
      <exclusions>
        <exclusion><groupId>*</groupId><artifactId>noise</artifactId></exclusion>
      </exclusions>
    </dependency>
    <dependency>
      <groupId>g</groupId>
      <artifactId>test-only</artifactId>
      <version>1</version>
      <scope>test</scope>
    </dependency>
  </dependencies>
</project>`)

	assert.Equal(t, "2.1", p.Properties["dep.version"])
	assert.Equal(t, "UTF-8", p.Properties["project.build.sourceEncoding"])
	require.Len(t, p.Dependencies, 2)
	assert.True(t, p.Dependencies[0].optional())
	assert.Equal(t, "compile", p.Dependencies[0].scope())
	assert.Equal(t, "test", p.Dependencies[1].scope())
	require.Len(t, p.Dependencies[0].Exclusions, 1)
	assert.True(t, p.Dependencies[0].Exclusions[0].matches(Coordinate{GroupID: "any", ArtifactID: "noise"}))
	assert.False(t, p.Dependencies[0].Exclusions[0].matches(Coordinate{GroupID: "any", ArtifactID: "signal"}))

	m := inherit(p, nil)
	assert.Equal(t, "2.1", m.dependencies[0].Version)
	assert.Equal(t, Coordinate{GroupID: "g", ArtifactID: "a", Version: "1.0", Packaging: "jar"}, m.coordinate)
}

func TestParsePOMInvalid(t *testing.T) {
	_, err := parsePOM(strings.NewReader("<project><broken></project>"))
	require.Error(t, err)
}

func TestInheritInterpolatesInChildContext(t *testing.T) {
	parent := inherit(mustParsePOM(t, `<project>
  <groupId>g</groupId>
  <artifactId>parent</artifactId>
  <version>1.0</version>
  <packaging>pom</packaging>
  <properties><shared.version>3.0</shared.version></properties>
  <dependencyManagement><dependencies>
    <dependency><groupId>g</groupId><artifactId>managed</artifactId><version>${shared.version}</version></dependency>
  </dependencies></dependencyManagement>
  <dependencies>
    <dependency><groupId>g</groupId><artifactId>sibling</artifactId><version>${project.version}</version></dependency>
  </dependencies>
</project>`), nil)

	child := inherit(mustParsePOM(t, `<project>
  <parent><groupId>g</groupId><artifactId>parent</artifactId><version>1.0</version></parent>
  <artifactId>child</artifactId>
  <version>2.0</version>
  <properties><shared.version>3.5</shared.version></properties>
  <dependencies>
    <dependency><groupId>g</groupId><artifactId>managed</artifactId></dependency>
    <dependency><groupId>g</groupId><artifactId>parent-ref</artifactId><version>${project.parent.version}</version></dependency>
  </dependencies>
</project>`), parent)
	child.applyManagement()

	assert.Equal(t, "g", child.coordinate.GroupID)
	assert.Equal(t, "2.0", child.coordinate.Version)

	versions := make(map[string]string)
	for _, d := range child.dependencies {
		versions[d.ArtifactID] = d.Version
	}
	assert.Equal(t, map[string]string{
		"sibling":    "2.0",
		"managed":    "3.5",
		"parent-ref": "1.0",
	}, versions)
	assert.Equal(t, "sibling", child.dependencies[0].ArtifactID)

	// the parent's own view is unaffected
	assert.Equal(t, "1.0", parent.dependencies[0].Version)
	assert.Equal(t, "3.0", parent.managed[Coordinate{GroupID: "g", ArtifactID: "managed"}.key()].Version)
}

func TestExpand(t *testing.T) {
	m := &model{properties: map[string]string{
		"a":      "${b}",
		"b":      "value",
		"loop":   "${loop}",
		"nested": "x-${a}-y",
	}}
	assert.Equal(t, "value", m.expand("${a}"))
	assert.Equal(t, "x-value-y", m.expand(" ${nested} "))
	assert.Equal(t, "${unknown}", m.expand("${unknown}"))
	assert.Equal(t, "${loop}", m.expand("${loop}"))
}

func TestImportBOMKeepsOwnEntries(t *testing.T) {
	m := inherit(mustParsePOM(t, `<project><groupId>g</groupId><artifactId>a</artifactId><version>1</version>
  <dependencyManagement><dependencies>
    <dependency><groupId>g</groupId><artifactId>lib</artifactId><version>1.0</version></dependency>
    <dependency><groupId>g</groupId><artifactId>bom</artifactId><version>1</version><type>pom</type><scope>import</scope></dependency>
  </dependencies></dependencyManagement>
</project>`), nil)
	bom := inherit(mustParsePOM(t, `<project><groupId>g</groupId><artifactId>bom</artifactId><version>1</version><packaging>pom</packaging>
  <dependencyManagement><dependencies>
    <dependency><groupId>g</groupId><artifactId>lib</artifactId><version>9.9</version></dependency>
    <dependency><groupId>g</groupId><artifactId>extra</artifactId><version>2.0</version></dependency>
  </dependencies></dependencyManagement>
</project>`), nil)

	imports := m.bomImports()
	require.Len(t, imports, 1)
	assert.Equal(t, "bom", imports[0].ArtifactID)

	m.importBOM(bom)
	assert.Equal(t, "1.0", m.managed[Coordinate{GroupID: "g", ArtifactID: "lib"}.key()].Version)
	assert.Equal(t, "2.0", m.managed[Coordinate{GroupID: "g", ArtifactID: "extra"}.key()].Version)
}
