package testutil

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rssi.map/internal/locate"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()

	fakeT := &testing.T{}
	AssertStatusCode(fakeT, http.StatusOK, http.StatusOK)
	if fakeT.Failed() {
		t.Error("expected no failure for matching status codes")
	}
}

func TestAssertNoError(t *testing.T) {
	t.Parallel()
	AssertNoError(t, nil)
}

func TestAssertError(t *testing.T) {
	t.Parallel()
	AssertError(t, errors.New("test error"))
}

func TestAssertJSON(t *testing.T) {
	rec := NewTestRecorder()
	rec.Header().Set("Content-Type", "application/json")
	AssertJSON(t, rec)
}

func TestNewTestRequest(t *testing.T) {
	t.Parallel()

	req := NewTestRequest(http.MethodPost, "/api/map/rebuild")
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/map/rebuild", req.URL.Path)
}

func TestOffsetDistance(t *testing.T) {
	lat, lon := Offset(52.5, 13.4, 30, 40)
	assert.InDelta(t, 50, DistanceM(52.5, 13.4, lat, lon), 0.01)
}

func TestRing(t *testing.T) {
	obs := Ring("02:00:00:00:00:01", "cafe", 52.5, 13.4, 20, 12)
	require.Len(t, obs, 12)

	for _, o := range obs {
		d := DistanceM(52.5, 13.4, o.Lat, o.Lon)
		assert.LessOrEqual(t, d, 20.0+1e-6)
		assert.InDelta(t, -35-0.6*d, o.RSSI, 0.01)
	}
	assert.True(t, obs[1].Timestamp.After(obs[0].Timestamp))
}

func TestSurvey_Locatable(t *testing.T) {
	devices, obs := Survey(52.5, 13.4, 3, 16)
	require.Len(t, devices, 3)
	require.Len(t, obs, 48)

	est, err := locate.NewEstimator(locate.DefaultParams())
	require.NoError(t, err)
	res, err := est.Run(context.Background(), obs)
	require.NoError(t, err)
	require.Len(t, res.Estimates, 3)

	for _, e := range res.Estimates {
		var dev *Device
		for i := range devices {
			if devices[i].MAC == e.MAC {
				dev = &devices[i]
			}
		}
		require.NotNil(t, dev, e.MAC)
		assert.Less(t, DistanceM(dev.Lat, dev.Lon, e.Lat, e.Lon), 25.0, e.MAC)
	}
}
