package resolver

import (
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const maxInterpolationPasses = 10

var placeholderRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

type pomParent struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
}

type pomExclusion struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
}

func (e pomExclusion) matches(c Coordinate) bool {
	return (e.GroupID == "*" || e.GroupID == c.GroupID) &&
		(e.ArtifactID == "*" || e.ArtifactID == c.ArtifactID)
}

type pomDependency struct {
	GroupID    string         `xml:"groupId"`
	ArtifactID string         `xml:"artifactId"`
	Version    string         `xml:"version"`
	Type       string         `xml:"type"`
	Classifier string         `xml:"classifier"`
	Scope      string         `xml:"scope"`
	Optional   string         `xml:"optional"`
	Exclusions []pomExclusion `xml:"exclusions>exclusion"`
}

func (d pomDependency) managementKey() string {
	return d.coordinate().key()
}

func (d pomDependency) coordinate() Coordinate {
	packaging := d.Type
	if packaging == "" {
		packaging = DefaultPackaging
	}
	return Coordinate{
		GroupID:    d.GroupID,
		ArtifactID: d.ArtifactID,
		Version:    d.Version,
		Packaging:  packaging,
		Classifier: d.Classifier,
	}
}

func (d pomDependency) scope() string {
	if d.Scope == "" {
		return "compile"
	}
	return d.Scope
}

func (d pomDependency) optional() bool {
	return strings.TrimSpace(d.Optional) == "true"
}

// pomProperties collects the free-form children of <properties>.
type pomProperties map[string]string

func (p *pomProperties) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	props := make(pomProperties)
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var value string
			if err := d.DecodeElement(&value, &t); err != nil {
				return err
			}
			props[t.Name.Local] = strings.TrimSpace(value)
		case xml.EndElement:
			*p = props
			return nil
		}
	}
}

type pomProject struct {
	XMLName              xml.Name        `xml:"project"`
	Parent               *pomParent      `xml:"parent"`
	GroupID              string          `xml:"groupId"`
	ArtifactID           string          `xml:"artifactId"`
	Version              string          `xml:"version"`
	Packaging            string          `xml:"packaging"`
	Properties           pomProperties   `xml:"properties"`
	DependencyManagement []pomDependency `xml:"dependencyManagement>dependencies>dependency"`
	Dependencies         []pomDependency `xml:"dependencies>dependency"`
}

func parsePOM(r io.Reader) (*pomProject, error) {
	var p pomProject
	if err := xml.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to parse POM: %w", err)
	}
	return &p, nil
}

// model is the effective view of a POM after parent inheritance, property
// interpolation, BOM imports and dependency management.
type model struct {
	coordinate Coordinate

	// declarations merged along the parent chain, before interpolation
	declaredProperties   map[string]string
	declaredManaged      []pomDependency
	declaredDependencies []pomDependency

	properties   map[string]string
	managed      map[string]pomDependency
	managedOrder []string
	dependencies []pomDependency
}

func (m *model) manage(d pomDependency) {
	key := d.managementKey()
	if _, ok := m.managed[key]; !ok {
		m.managedOrder = append(m.managedOrder, key)
	}
	m.managed[key] = d
}

// inherit builds the effective model of p on top of its parent's model.
// Inherited declarations are interpolated in the context of p.
func inherit(p *pomProject, parent *model) *model {
	m := &model{
		declaredProperties: make(map[string]string),
		properties:         make(map[string]string),
		managed:            make(map[string]pomDependency),
	}
	c := Coordinate{GroupID: p.GroupID, ArtifactID: p.ArtifactID, Version: p.Version, Packaging: p.Packaging}
	if p.Parent != nil {
		if c.GroupID == "" {
			c.GroupID = p.Parent.GroupID
		}
		if c.Version == "" {
			c.Version = p.Parent.Version
		}
	}
	if c.Packaging == "" {
		c.Packaging = DefaultPackaging
	}
	m.coordinate = c

	var inherited []pomDependency
	if parent != nil {
		for k, v := range parent.declaredProperties {
			m.declaredProperties[k] = v
		}
		m.declaredManaged = append(m.declaredManaged, parent.declaredManaged...)
		inherited = parent.declaredDependencies
	}
	for k, v := range p.Properties {
		m.declaredProperties[k] = v
	}
	m.declaredManaged = append(m.declaredManaged, p.DependencyManagement...)

	// Child declarations replace inherited ones with the same key.
	own := make(map[string]bool, len(p.Dependencies))
	for _, d := range p.Dependencies {
		own[d.managementKey()] = true
	}
	for _, d := range inherited {
		if !own[d.managementKey()] {
			m.declaredDependencies = append(m.declaredDependencies, d)
		}
	}
	m.declaredDependencies = append(m.declaredDependencies, p.Dependencies...)

	for k, v := range m.declaredProperties {
		m.properties[k] = v
	}
	m.setProjectProperties(p)
	m.interpolate()
	m.coordinate.Version = m.expand(m.coordinate.Version)
	return m
}

func (m *model) setProjectProperties(p *pomProject) {
	c := m.coordinate
	for _, prefix := range []string{"project.", "pom."} {
		m.properties[prefix+"groupId"] = c.GroupID
		m.properties[prefix+"artifactId"] = c.ArtifactID
		m.properties[prefix+"version"] = c.Version
		m.properties[prefix+"packaging"] = c.Packaging
	}
	if p.Parent != nil {
		m.properties["project.parent.groupId"] = p.Parent.GroupID
		m.properties["project.parent.artifactId"] = p.Parent.ArtifactID
		m.properties["project.parent.version"] = p.Parent.Version
		m.properties["parent.version"] = p.Parent.Version
	}
}

func (m *model) interpolate() {
	for k, v := range m.properties {
		m.properties[k] = m.expand(v)
	}
	// later declarations (the child's) replace earlier ones with the same key
	for _, d := range m.declaredManaged {
		m.manage(m.expandDependency(d))
	}
	m.dependencies = make([]pomDependency, 0, len(m.declaredDependencies))
	for _, d := range m.declaredDependencies {
		m.dependencies = append(m.dependencies, m.expandDependency(d))
	}
}

func (m *model) expandDependency(d pomDependency) pomDependency {
	d.GroupID = m.expand(d.GroupID)
	d.ArtifactID = m.expand(d.ArtifactID)
	d.Version = m.expand(d.Version)
	d.Type = m.expand(d.Type)
	d.Classifier = m.expand(d.Classifier)
	d.Scope = m.expand(d.Scope)
	d.Optional = m.expand(d.Optional)
	return d
}

// expand replaces ${name} placeholders. Unknown placeholders are left as is.
func (m *model) expand(s string) string {
	s = strings.TrimSpace(s)
	for i := 0; i < maxInterpolationPasses && strings.Contains(s, "${"); i++ {
		next := placeholderRegex.ReplaceAllStringFunc(s, func(match string) string {
			name := match[2 : len(match)-1]
			if v, ok := m.properties[name]; ok {
				return v
			}
			return match
		})
		if next == s {
			break
		}
		s = next
	}
	return s
}

// applyManagement fills versions and scopes from dependency management.
func (m *model) applyManagement() {
	for i, d := range m.dependencies {
		managed, ok := m.managed[d.managementKey()]
		if !ok {
			continue
		}
		if d.Version == "" {
			d.Version = managed.Version
		}
		if d.Scope == "" {
			d.Scope = managed.Scope
		}
		if len(d.Exclusions) == 0 {
			d.Exclusions = managed.Exclusions
		}
		m.dependencies[i] = d
	}
}

// bomImports returns the import-scoped entries of dependency management.
func (m *model) bomImports() []pomDependency {
	var out []pomDependency
	for _, key := range m.managedOrder {
		d := m.managed[key]
		if d.Scope == "import" && d.Type == "pom" {
			out = append(out, d)
		}
	}
	return out
}

// importBOM merges the managed dependencies of bom into m without overriding
// entries m already declares.
func (m *model) importBOM(bom *model) {
	for _, key := range bom.managedOrder {
		if _, ok := m.managed[key]; ok {
			continue
		}
		m.manage(bom.managed[key])
	}
}
