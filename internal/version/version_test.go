package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionStrings(t *testing.T) {
	assert.Equal(t, "chunkup", AppName)
	assert.NotEmpty(t, Version)
	assert.NotEmpty(t, Revision)

	short := Short()
	assert.Contains(t, short, Version)
	assert.Contains(t, short, Revision)

	detailed := Detailed()
	assert.Contains(t, detailed, Version)
	assert.Contains(t, detailed, runtime.GOOS+"/"+runtime.GOARCH)
	assert.True(t, strings.HasPrefix(DetailedWithApp(), AppName+" "))
}

func TestGet(t *testing.T) {
	info := Get()
	assert.Equal(t, AppName, info.App)
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestApplyBuildInfo(t *testing.T) {
	tests := []struct {
		name                            string
		version, revision, buildDate    string
		wantVersion, wantRev, wantBuilt string
	}{
		{
			name:        "fills dev defaults",
			version:     devVersion,
			revision:    "HEAD",
			wantVersion: "9.9.9",
			wantRev:     "abcdef1234567890-dirty",
			wantBuilt:   "2026-03-01T10:00:00Z",
		},
		{
			name:        "keeps ldflags values",
			version:     "1.2.3",
			revision:    "deadbeef",
			buildDate:   "from-ldflags",
			wantVersion: "1.2.3",
			wantRev:     "deadbeef",
			wantBuilt:   "from-ldflags",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origVersion, origRevision, origBuildDate := Version, Revision, BuildDate
			t.Cleanup(func() {
				Version, Revision, BuildDate = origVersion, origRevision, origBuildDate
			})
			Version, Revision, BuildDate = tt.version, tt.revision, tt.buildDate

			applyBuildInfo("v9.9.9", map[string]string{
				"vcs.revision": "abcdef1234567890",
				"vcs.modified": "true",
				"vcs.time":     "2026-03-01T10:00:00Z",
			})

			assert.Equal(t, tt.wantVersion, Version)
			assert.Equal(t, tt.wantRev, Revision)
			assert.Equal(t, tt.wantBuilt, BuildDate)
		})
	}
}
