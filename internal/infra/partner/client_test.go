package partner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partner_sync/internal/domain/geiq"
)

func newTestClient(t *testing.T, srv *httptest.Server, concurrency int) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: srv.URL + "/api/v1", Token: "secret", Concurrency: concurrency, HTTPClient: srv.Client()})
	require.NoError(t, err)
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

// pagedHandler serves totalPages pages of two records each.
func pagedHandler(t *testing.T, totalPages int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		n, err := strconv.Atoi(r.URL.Query().Get("page"))
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data := []map[string]any{
			{"code": fmt.Sprintf("P%d-1", n), "n": 1},
			{"code": fmt.Sprintf("P%d-2", n), "n": 2},
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data, "total_pages": totalPages})
	}
}

func TestFetchAllReadsEveryPageInOrder(t *testing.T) {
	srv := httptest.NewServer(pagedHandler(t, 5))
	defer srv.Close()

	records, err := newTestClient(t, srv, 3).FetchAll(context.Background(), PathRomeCodes, nil)
	require.NoError(t, err)
	require.Len(t, records, 10)
	for i, r := range records {
		assert.Equal(t, fmt.Sprintf("P%d-%d", i/2+1, i%2+1), r.Key("code"))
	}
	n, ok := records[0].Get("n")
	require.True(t, ok)
	assert.Equal(t, json.Number("1"), n)
}

func TestFetchAllRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		pagedHandler(t, 1)(w, r)
	}))
	defer srv.Close()

	records, err := newTestClient(t, srv, 1).FetchAll(context.Background(), PathRomeCodes, nil)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchAllFailsWholeCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "3" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		pagedHandler(t, 4)(w, r)
	}))
	defer srv.Close()

	records, err := newTestClient(t, srv, 2).FetchAll(context.Background(), PathRomeCodes, nil)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Nil(t, records)
}

func TestFetchAllDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, 1).FetchAll(context.Background(), PathRomeCodes, nil)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorContains(t, err, "unexpected status 401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestThrottleSpacesRequests(t *testing.T) {
	th := &throttle{delay: 20 * time.Millisecond}
	start := time.Now()
	for range 3 {
		require.NoError(t, th.wait(context.Background()))
	}
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestThrottleHonoursCancellation(t *testing.T) {
	th := &throttle{delay: time.Hour}
	require.NoError(t, th.wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, th.wait(ctx), context.Canceled)
}

func TestGeiqSourceQueriesEveryAntenna(t *testing.T) {
	var antennas []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/geiq/salaries", r.URL.Path)
		assert.Equal(t, "2024", r.URL.Query().Get("annee"))
		antennas = append(antennas, r.URL.Query().Get("antenne"))
		pagedHandler(t, 1)(w, r)
	}))
	defer srv.Close()

	src := NewGeiqSource(newTestClient(t, srv, 1))
	records, err := src.Employees(context.Background(), geiq.Assessment{ID: 1, CampaignYear: 2024, AntennaIDs: []int{3, 8}})
	require.NoError(t, err)
	assert.Len(t, records, 4)
	assert.Equal(t, []string{"3", "8"}, antennas)
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "api/v1"})
	assert.Error(t, err)
}
