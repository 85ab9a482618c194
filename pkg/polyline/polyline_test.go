package polyline_test

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/pkg/polyline"
)

func TestDecode_GoogleExample(t *testing.T) {
	ls, err := polyline.Decode("_p~iF~ps|U_ulLnnqC_mqNvxq`@", polyline.Precision5)
	require.NoError(t, err)
	require.Len(t, ls, 3)

	expected := []orb.Point{
		{-120.2, 38.5},
		{-120.95, 40.7},
		{-126.453, 43.252},
	}
	for i, p := range expected {
		assert.InDelta(t, p.Lon(), ls[i].Lon(), 1e-5, "lon %d", i)
		assert.InDelta(t, p.Lat(), ls[i].Lat(), 1e-5, "lat %d", i)
	}
}

func TestDecode_Empty(t *testing.T) {
	ls, err := polyline.Decode("", polyline.Precision5)
	require.NoError(t, err)
	assert.Nil(t, ls)
}

func TestDecode_Truncated(t *testing.T) {
	_, err := polyline.Decode("_p~iF~ps|U_ulL", polyline.Precision5)
	assert.ErrorIs(t, err, polyline.ErrMalformed)
}

func TestEncode_RoundTripsAtBothPrecisions(t *testing.T) {
	ls := orb.LineString{
		{80.2707, 13.0827},
		{80.2574, 13.0674},
		{80.2209, 13.0418},
	}

	for _, precision := range []int{polyline.Precision5, polyline.Precision6} {
		encoded := polyline.Encode(ls, precision)
		decoded, err := polyline.Decode(encoded, precision)
		require.NoError(t, err)
		require.Len(t, decoded, len(ls))
		for i := range ls {
			assert.InDelta(t, ls[i].Lat(), decoded[i].Lat(), 1e-5)
			assert.InDelta(t, ls[i].Lon(), decoded[i].Lon(), 1e-5)
		}
	}
}

func TestEncode_KnownValue(t *testing.T) {
	ls := orb.LineString{{-120.2, 38.5}, {-120.95, 40.7}, {-126.453, 43.252}}
	assert.Equal(t, "_p~iF~ps|U_ulLnnqC_mqNvxq`@", polyline.Encode(ls, polyline.Precision5))
}
