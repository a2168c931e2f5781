package rawcopy

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"sort"
	"strings"
)

// ErrUnsupportedHash rejects a digest algorithm outside the supported set.
// It is raised before any device I/O, so callers treat it as a
// configuration error.
var ErrUnsupportedHash = errors.New("unsupported hash algorithm")

// digestSet tracks one or more hashes computed incrementally over the bytes
// flowing through a copy, so no part of the source is ever buffered whole.
type digestSet struct {
	hashes map[string]hash.Hash
}

func newDigestSet(algos []string) (*digestSet, error) {
	set := &digestSet{hashes: map[string]hash.Hash{}}
	for _, a := range algos {
		name := strings.ToLower(strings.TrimSpace(a))
		if name == "" {
			continue
		}
		if _, dup := set.hashes[name]; dup {
			continue
		}
		switch name {
		case "md5":
			set.hashes[name] = md5.New()
		case "sha1":
			set.hashes[name] = sha1.New()
		case "sha256":
			set.hashes[name] = sha256.New()
		case "sha512":
			set.hashes[name] = sha512.New()
		default:
			return nil, fmt.Errorf("%w %q (want md5, sha1, sha256 or sha512)", ErrUnsupportedHash, a)
		}
	}
	return set, nil
}

func (s *digestSet) Write(p []byte) {
	for _, h := range s.hashes {
		h.Write(p)
	}
}

func (s *digestSet) Sums() map[string]string {
	if len(s.hashes) == 0 {
		return nil
	}
	out := make(map[string]string, len(s.hashes))
	for name, h := range s.hashes {
		out[name] = hex.EncodeToString(h.Sum(nil))
	}
	return out
}

// Algorithms lists the supported digest names, sorted, for CLI help text.
func Algorithms() []string {
	out := []string{"md5", "sha1", "sha256", "sha512"}
	sort.Strings(out)
	return out
}
