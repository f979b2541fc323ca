package qa

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestVersion(t *testing.T) {
	p, err := NewManifestParser(DefaultManifestPath, DefaultVersionQuery)
	require.NoError(t, err)

	v, err := p.Version(context.Background(), []byte(`{"name":"app","version":"6.5.1-develop"}`))
	require.NoError(t, err)
	assert.Equal(t, "6.5.1-develop", v)
}

func TestManifestVersionCustomQuery(t *testing.T) {
	p, err := NewManifestParser("release.json", ".release.current")
	require.NoError(t, err)

	v, err := p.Version(context.Background(), []byte(`{"release":{"current":"2.0.0"}}`))
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", v)
}

func TestManifestVersionErrors(t *testing.T) {
	p, err := NewManifestParser(DefaultManifestPath, DefaultVersionQuery)
	require.NoError(t, err)

	for _, manifest := range []string{
		`not json`,
		`{"name":"app"}`,
		`{"version":1}`,
		`{"version":""}`,
	} {
		t.Run(manifest, func(t *testing.T) {
			_, err := p.Version(context.Background(), []byte(manifest))
			assert.Error(t, err)
		})
	}
}

func TestNewManifestParserInvalidQuery(t *testing.T) {
	_, err := NewManifestParser(DefaultManifestPath, ".version[")
	assert.Error(t, err)
}
