package mirror_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/hifidl/mirror"
)

func TestRelativePathCombinePathsRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base string
		path string
	}{
		{base: "https://a.example.com", path: "/track/"},
		{base: "https://a.example.com/", path: "/track/"},
		{base: "https://a.example.com/api", path: "/api/track/"},
		{base: "https://a.example.com/api/", path: "/api/track/"},
		{base: "https://a.example.com/api/v1", path: "/api/v1/search/"},
		{base: "https://a.example.com/api", path: "/api"},
	}
	for _, test := range tests {
		t.Run(test.base+test.path, func(t *testing.T) {
			t.Parallel()

			base, err := url.Parse(test.base)
			require.NoError(t, err)

			u, err := url.Parse(test.base)
			require.NoError(t, err)
			u.Path = test.path

			rel := mirror.RelativePath(u, base)
			got := mirror.CombinePaths(base.Path, rel)
			assert.Equal(t, test.path, got)
		})
	}
}

func TestRelativePathTreatsBareBaseAsRoot(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://a.example.com/api")
	require.NoError(t, err)

	u, err := url.Parse("https://a.example.com/api/")
	require.NoError(t, err)

	assert.Equal(t, "/", mirror.RelativePath(u, base))
}

func TestRewriteURLBetweenMirrors(t *testing.T) {
	t.Parallel()

	origin := mustTarget(t, "origin", "https://a.example.com/api")
	dest := mustTarget(t, "dest", "https://b.example.com")

	u, err := url.Parse("https://a.example.com/api/track/?id=42&quality=LOSSLESS#frag")
	require.NoError(t, err)

	got := mirror.RewriteURL(u, origin, dest)
	assert.Equal(t, "https://b.example.com/track/?id=42&quality=LOSSLESS#frag", got.String())
}

func TestRewriteURLMirrorRoot(t *testing.T) {
	t.Parallel()

	origin := mustTarget(t, "origin", "https://a.example.com/api/")
	dest := mustTarget(t, "dest", "https://b.example.com/v2")

	u, err := url.Parse("https://a.example.com/api/")
	require.NoError(t, err)

	got := mirror.RewriteURL(u, origin, dest)
	assert.Equal(t, "https://b.example.com/v2", got.String())
}

func mustTarget(t *testing.T, name, base string) mirror.Target {
	t.Helper()

	u, err := url.Parse(base)
	require.NoError(t, err)

	return mirror.Target{Name: name, BaseURL: u, Weight: 1}
}
