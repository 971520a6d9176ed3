package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveCommit(t *testing.T) {
	withRevision := func(rev string) func() (*debug.BuildInfo, bool) {
		return func() (*debug.BuildInfo, bool) {
			return &debug.BuildInfo{Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: rev}}}, true
		}
	}
	noInfo := func() (*debug.BuildInfo, bool) { return nil, false }

	tests := []struct {
		name     string
		override string
		info     func() (*debug.BuildInfo, bool)
		want     string
	}{
		{name: "override wins", override: "0123456789abcdef", info: withRevision("ffffffffffff"), want: "01234567"},
		{name: "short override kept", override: "abc", info: noInfo, want: "abc"},
		{name: "vcs revision", info: withRevision("a3f8c2d1e5b7"), want: "a3f8c2d1"},
		{name: "empty revision", info: withRevision(""), want: "dev"},
		{name: "no build info", info: noInfo, want: "dev"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveCommit(tt.override, tt.info))
		})
	}
}

func TestFull(t *testing.T) {
	assert.Equal(t, "phimask/"+GitCommit, Full())
}
