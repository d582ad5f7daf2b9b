package upload

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"hash"
	"strings"
	"sync"

	"github.com/minio/crc64nvme"
	"github.com/minio/sha256-simd"
)

const (
	ChecksumMD5       = "md5"
	ChecksumSHA256    = "sha256"
	ChecksumCRC64NVME = "crc64nvme"
)

var hasherPools = map[string]*sync.Pool{
	ChecksumMD5: {
		New: func() any { return md5.New() },
	},
	ChecksumSHA256: {
		New: func() any { return sha256.New() },
	},
	ChecksumCRC64NVME: {
		New: func() any { return crc64nvme.New() },
	},
}

// Checksum is a parsed caller-supplied content hash.
type Checksum struct {
	Algorithm string
	Digest    []byte
}

func (c *Checksum) String() string {
	return c.Algorithm + ":" + hex.EncodeToString(c.Digest)
}

// ParseChecksum accepts "algo:hex" or bare hex. Bare hex is read as md5 when it
// is 32 characters long and as sha256 when it is 64.
func ParseChecksum(s string) (*Checksum, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	algo, value, found := strings.Cut(s, ":")
	if !found {
		value = algo
		switch len(value) {
		case 32:
			algo = ChecksumMD5
		case 64:
			algo = ChecksumSHA256
		default:
			return nil, invalidArgument("cannot infer checksum algorithm from %d hex characters", len(value))
		}
	}
	algo = strings.ToLower(algo)

	if _, ok := hasherPools[algo]; !ok {
		return nil, invalidArgument("unsupported checksum algorithm %q", algo)
	}

	digest, err := hex.DecodeString(strings.ToLower(value))
	if err != nil {
		return nil, invalidArgument("checksum is not valid hex")
	}
	if want := digestSize(algo); len(digest) != want {
		return nil, invalidArgument("%s checksum must be %d bytes, got %d", algo, want, len(digest))
	}

	return &Checksum{Algorithm: algo, Digest: digest}, nil
}

// Verify recomputes the digest of payload and compares it.
func (c *Checksum) Verify(payload []byte) bool {
	got := Sum(c.Algorithm, payload)
	return got != nil && bytes.Equal(got, c.Digest)
}

// Sum hashes payload with a pooled hasher for algo. It returns nil for unknown algorithms.
func Sum(algo string, payload []byte) []byte {
	pool, ok := hasherPools[algo]
	if !ok {
		return nil
	}
	h := pool.Get().(hash.Hash)
	defer func() {
		h.Reset()
		pool.Put(h)
	}()

	h.Write(payload)
	return h.Sum(nil)
}

func digestSize(algo string) int {
	switch algo {
	case ChecksumMD5:
		return md5.Size
	case ChecksumSHA256:
		return sha256.Size
	case ChecksumCRC64NVME:
		return 8
	}
	return 0
}
