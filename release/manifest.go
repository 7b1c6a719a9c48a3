package release

import (
	"fmt"

	"gopkg.in/yaml.v2"
)

const ManifestFile = "release.MF"

type Manifest struct {
	Name               string        `yaml:"name"`
	Version            string        `yaml:"version"`
	CommitHash         string        `yaml:"commit_hash,omitempty"`
	UncommittedChanges bool          `yaml:"uncommitted_changes"`
	Packages           []PackageMeta `yaml:"packages,omitempty"`
	CompiledPackages   []PackageMeta `yaml:"compiled_packages,omitempty"`
	Jobs               []JobMeta     `yaml:"jobs,omitempty"`
}

type PackageMeta struct {
	Name         string   `yaml:"name"`
	Version      string   `yaml:"version"`
	Fingerprint  string   `yaml:"fingerprint,omitempty"`
	SHA1         string   `yaml:"sha1,omitempty"`
	Dependencies []string `yaml:"dependencies,omitempty"`
	Stemcell     string   `yaml:"stemcell,omitempty"`
}

type JobMeta struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Fingerprint string   `yaml:"fingerprint,omitempty"`
	SHA1        string   `yaml:"sha1,omitempty"`
	Packages    []string `yaml:"packages,omitempty"`
}

func ParseManifest(b []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := yaml.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %s", ManifestFile, err)
	}
	return m, nil
}

// IsCompiled is true for releases that ship packages pre-compiled against
// specific stemcells instead of package sources.
func (m *Manifest) IsCompiled() bool {
	return len(m.CompiledPackages) > 0
}

func (m *Manifest) AllPackages() []PackageMeta {
	if m.IsCompiled() {
		return m.CompiledPackages
	}
	return m.Packages
}

// Validate checks the structure of the manifest.  Per-artifact identity
// (names, versions, fingerprints) is checked during ingestion.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%s does not specify a release name", ManifestFile)
	}
	if m.Version == "" {
		return fmt.Errorf("%s does not specify a release version", ManifestFile)
	}
	if len(m.Packages) > 0 && len(m.CompiledPackages) > 0 {
		return fmt.Errorf("%s lists both source and compiled packages", ManifestFile)
	}

	packages := make(map[string]bool)
	for _, p := range m.AllPackages() {
		if p.Name == "" {
			continue
		}
		if packages[p.Name] {
			return fmt.Errorf("package '%s' is listed more than once in %s", p.Name, ManifestFile)
		}
		packages[p.Name] = true
	}

	jobs := make(map[string]bool)
	for _, j := range m.Jobs {
		if j.Name == "" {
			continue
		}
		if jobs[j.Name] {
			return fmt.Errorf("job '%s' is listed more than once in %s", j.Name, ManifestFile)
		}
		jobs[j.Name] = true

		for _, p := range j.Packages {
			if !packages[p] {
				return fmt.Errorf("job '%s' requires package '%s', which is not part of the release", j.Name, p)
			}
		}
	}
	return nil
}
