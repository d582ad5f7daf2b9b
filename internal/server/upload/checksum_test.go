package upload

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/minio/crc64nvme"
	"github.com/minio/sha256-simd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestParseChecksum(t *testing.T) {
	payload := []byte("flight-0042 imagery")

	tests := []struct {
		name     string
		input    string
		wantAlgo string
		wantErr  bool
	}{
		{"empty", "", "", false},
		{"bare md5", md5Hex(payload), ChecksumMD5, false},
		{"bare sha256", sha256Hex(payload), ChecksumSHA256, false},
		{"prefixed md5", "md5:" + md5Hex(payload), ChecksumMD5, false},
		{"prefixed sha256 upper", "SHA256:" + sha256Hex(payload), ChecksumSHA256, false},
		{"crc64nvme", "crc64nvme:0123456789abcdef", ChecksumCRC64NVME, false},
		{"unknown algo", "sha1:" + md5Hex(payload), "", true},
		{"bad hex", "md5:zz" + md5Hex(payload)[2:], "", true},
		{"wrong length", "sha256:" + md5Hex(payload), "", true},
		{"bare odd length", "abc123", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseChecksum(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			if tt.wantAlgo == "" {
				assert.Nil(t, c)
				return
			}
			require.NotNil(t, c)
			assert.Equal(t, tt.wantAlgo, c.Algorithm)
		})
	}
}

func TestChecksumVerify(t *testing.T) {
	payload := []byte("point cloud tile 7/64/33")

	crc := crc64nvme.New()
	crc.Write(payload)

	for _, input := range []string{
		md5Hex(payload),
		"sha256:" + sha256Hex(payload),
		"crc64nvme:" + hex.EncodeToString(crc.Sum(nil)),
	} {
		c, err := ParseChecksum(input)
		require.NoError(t, err)
		assert.True(t, c.Verify(payload), input)
		assert.False(t, c.Verify([]byte("tampered")), input)
	}
}

func TestChecksumString(t *testing.T) {
	payload := []byte("abc")
	c, err := ParseChecksum(md5Hex(payload))
	require.NoError(t, err)
	assert.Equal(t, "md5:"+md5Hex(payload), c.String())
}

func TestSumUnknownAlgorithm(t *testing.T) {
	assert.Nil(t, Sum("whirlpool", []byte("x")))
}
