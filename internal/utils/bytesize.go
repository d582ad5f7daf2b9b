package utils

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// ByteSize is a byte count that decodes from human readable strings such as "5MiB" or "100 MB".
type ByteSize int64

func (b ByteSize) Int64() int64 {
	return int64(b)
}

func (b ByteSize) String() string {
	if b < 0 {
		return fmt.Sprintf("%d B", int64(b))
	}
	return humanize.IBytes(uint64(b))
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := humanize.ParseBytes(string(text))
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", string(text), err)
	}
	*b = ByteSize(n)
	return nil
}
