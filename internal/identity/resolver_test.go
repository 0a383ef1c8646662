package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const firefoxLinux = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

func TestDeviceUsesStoredUserID(t *testing.T) {
	r := NewResolver(ResolverConfig{})
	id := r.Device(Hint{RemoteIP: "203.0.113.7", UserAgent: firefoxLinux, StoredUserID: "stored-user-id-0001"})

	assert.Equal(t, "stored-user-id-0001", id.UserID)
	assert.Equal(t, "203.0.113.7", id.IP)
	assert.Equal(t, "Firefox", id.Browser)
	assert.Equal(t, "Desktop", id.Device)
	assert.NotEmpty(t, id.OS)
}

func TestDeviceHashIsStable(t *testing.T) {
	r := NewResolver(ResolverConfig{})
	h := Hint{RemoteIP: "203.0.113.7", UserAgent: firefoxLinux, Screen: "1920x1080"}

	a := r.Device(h)
	b := r.Device(h)
	require.Equal(t, a.UserID, b.UserID)
	assert.Len(t, a.UserID, 64)

	h.RemoteIP = "203.0.113.8"
	assert.NotEqual(t, a.UserID, r.Device(h).UserID)
}

func TestLookupRetriesWhileRateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.True(t, strings.HasSuffix(req.URL.Path, "/203.0.113.7/json"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"city":"Lisbon","region":"Lisbon","country":"PT","loc":"38.7,-9.1"}`))
	}))
	defer srv.Close()

	r := NewResolver(ResolverConfig{
		GeoEndpoint:     srv.URL + "/{ip}/json",
		RetryInitial:    time.Millisecond,
		RetryMaxElapsed: 5 * time.Second,
		Logger:          zaptest.NewLogger(t),
	})
	geo, err := r.Lookup(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, "Lisbon", geo.City)
	assert.EqualValues(t, 3, calls.Load())
}

func TestLookupDoesNotRetryOtherFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewResolver(ResolverConfig{GeoEndpoint: srv.URL + "/{ip}", RetryInitial: time.Millisecond})
	_, err := r.Lookup(context.Background(), "203.0.113.7")
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestResolveStabilisesEvenWhenGeoFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := NewResolver(ResolverConfig{GeoEndpoint: srv.URL + "/{ip}", Logger: zaptest.NewLogger(t)})
	c := NewContext(Pending())
	r.Resolve(context.Background(), Hint{RemoteIP: "203.0.113.7", UserAgent: firefoxLinux}, c)

	id := c.Get()
	assert.True(t, id.Stable(), "identity %+v", id)
	assert.Equal(t, "Unknown City, XX", id.Location)
	assert.Equal(t, "Unknown Region", id.Region)
}
