package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect_PlainWKT(t *testing.T) {
	lit, ok, err := Detect("POINT(23.7275 37.9838)")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, CanonicalSRID, lit.SRID)
}

func TestDetect_SRIDPrefixedWKT(t *testing.T) {
	lit, ok, err := Detect("SRID=3857;POINT(0 0)")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3857, lit.SRID)
}

func TestDetect_NonGeometryStringIsNotDetected(t *testing.T) {
	_, ok, err := Detect("active")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDetect_GeoJSON(t *testing.T) {
	m := map[string]any{
		"type":        "Point",
		"coordinates": []any{23.7275, 37.9838},
	}
	lit, ok, err := Detect(m)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, CanonicalSRID, lit.SRID)
}
