package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

type InvalidMetadataError struct {
	Artifact string
	Field    string
}

func (e *InvalidMetadataError) Error() string {
	if e.Artifact == "" {
		return fmt.Sprintf("artifact metadata is missing its %s", e.Field)
	}
	return fmt.Sprintf("artifact '%s' is missing its %s", e.Artifact, e.Field)
}

// Fingerprint derives the content identity of a package or job from its
// name, version, direct dependencies and the checksum of its bits.
// Dependency order and duplicates do not affect the result.
func Fingerprint(name, version string, deps []string, checksum string) (string, error) {
	if name == "" {
		return "", &InvalidMetadataError{Field: "name"}
	}
	if version == "" {
		return "", &InvalidMetadataError{Artifact: name, Field: "version"}
	}

	h := sha256.New()
	fmt.Fprintf(h, "name:%s\n", name)
	fmt.Fprintf(h, "version:%s\n", version)
	for _, dep := range normalize(deps) {
		fmt.Fprintf(h, "dependency:%s\n", dep)
	}
	fmt.Fprintf(h, "checksum:%s\n", checksum)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func normalize(deps []string) []string {
	seen := make(map[string]bool)
	l := make([]string, 0, len(deps))
	for _, dep := range deps {
		if !seen[dep] {
			seen[dep] = true
			l = append(l, dep)
		}
	}
	sort.Strings(l)
	return l
}

type Dependency struct {
	Name    string
	Version string
}

// DependencyKey identifies a transitive dependency closure.  Two compiled
// builds of the same package against the same stemcell must have
// different keys.
func DependencyKey(closure []Dependency) string {
	pairs := make([][2]string, 0, len(closure))
	for _, dep := range closure {
		pairs = append(pairs, [2]string{dep.Name, dep.Version})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})

	b, _ := json.Marshal(pairs)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
