package release

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// Checksum computes the hex digest of the file at path, using sha1 or
// sha256.
func Checksum(path, algorithm string) (string, error) {
	var h hash.Hash
	switch algorithm {
	case "sha1":
		h = sha1.New()
	case "sha256":
		h = sha256.New()
	default:
		return "", fmt.Errorf("unsupported digest algorithm '%s'", algorithm)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyDigest checks the file at path against a digest string.  Digests
// are written as "sha1:<hex>", "sha256:<hex>", or bare hex (the algorithm
// then follows from the length).  Several digests may be given, separated
// by semicolons; all of them must match.
func VerifyDigest(path, digest string) error {
	digest = strings.TrimSpace(digest)
	if digest == "" {
		return nil
	}

	for _, d := range strings.Split(digest, ";") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}

		algorithm, want := "", strings.ToLower(d)
		if i := strings.Index(d, ":"); i >= 0 {
			algorithm, want = strings.ToLower(d[:i]), strings.ToLower(d[i+1:])
		} else {
			switch len(d) {
			case 40:
				algorithm = "sha1"
			case 64:
				algorithm = "sha256"
			default:
				return fmt.Errorf("unrecognized digest '%s'", d)
			}
		}

		got, err := Checksum(path, algorithm)
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("%s digest mismatch for %s: expected %s, got %s", algorithm, path, want, got)
		}
	}
	return nil
}
