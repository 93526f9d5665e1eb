// Package registry implements the npm-registry client surface: package
// metadata lookup, dist-tag resolution, and verified tarball downloads.
package registry

// PackageDistribution locates a version's tarball on the registry. The
// shasum is part of the wire format and guards against corrupt transfers,
// not against a hostile registry.
type PackageDistribution struct {
	Tarball   string `json:"tarball"`
	Shasum    string `json:"shasum"`
	Integrity string `json:"integrity,omitempty"`
}

// PackageVersion is one published version of a package.
type PackageVersion struct {
	Name            string              `json:"name"`
	Version         string              `json:"version"`
	Dependencies    map[string]string   `json:"dependencies,omitempty"`
	DevDependencies map[string]string   `json:"devDependencies,omitempty"`
	Dist            PackageDistribution `json:"dist"`
}

// PackageMetadata is the registry document for a package: every published
// version plus the dist-tag map ("latest" and friends).
type PackageMetadata struct {
	Name     string                    `json:"name"`
	DistTags map[string]string         `json:"dist-tags"`
	Versions map[string]PackageVersion `json:"versions"`
}

// Version returns the metadata for an exact version, if published.
func (m *PackageMetadata) Version(version string) (*PackageVersion, bool) {
	v, ok := m.Versions[version]
	if !ok {
		return nil, false
	}
	return &v, true
}

// Tag resolves a dist-tag to its version string.
func (m *PackageMetadata) Tag(tag string) (string, bool) {
	v, ok := m.DistTags[tag]
	return v, ok
}
