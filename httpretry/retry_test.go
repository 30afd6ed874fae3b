package httpretry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repufi/logger"
)

func init() {
	logger.UseNop()
}

// scriptedDoer replays a fixed sequence of responses or errors.
type scriptedDoer struct {
	steps []func() (*http.Response, error)
	calls int
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	step := d.steps[d.calls]
	d.calls++
	return step()
}

func status(code int, headers map[string]string) func() (*http.Response, error) {
	return func() (*http.Response, error) {
		h := http.Header{}
		for k, v := range headers {
			h.Set(k, v)
		}
		return &http.Response{
			StatusCode: code,
			Status:     strconv.Itoa(code) + " " + http.StatusText(code),
			Header:     h,
			Body:       io.NopCloser(strings.NewReader("{}")),
		}, nil
	}
}

func failure(err error) func() (*http.Response, error) {
	return func() (*http.Response, error) { return nil, err }
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newRequest(t *testing.T) *http.Request {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://api.example.test/users/octocat", nil)
	require.NoError(t, err)
	return req
}

func TestDoRetriesWithLinearBackoff(t *testing.T) {
	doer := &scriptedDoer{steps: []func() (*http.Response, error){
		status(http.StatusInternalServerError, nil),
		status(http.StatusInternalServerError, nil),
		status(http.StatusOK, nil),
	}}
	rec := &sleepRecorder{}
	client := New(doer, DefaultPolicy(), WithSleeper(rec.sleep))

	resp, err := client.Do(newRequest(t))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, doer.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestDoRateLimit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reset := strconv.FormatInt(now.Add(5*time.Second).Unix(), 10)
	limited := status(http.StatusForbidden, map[string]string{
		"X-RateLimit-Remaining": "0",
		"X-RateLimit-Reset":     reset,
	})

	t.Run("waits for reset plus buffer then succeeds", func(t *testing.T) {
		doer := &scriptedDoer{steps: []func() (*http.Response, error){limited, status(http.StatusOK, nil)}}
		rec := &sleepRecorder{}
		client := New(doer, DefaultPolicy(), WithSleeper(rec.sleep), WithClock(func() time.Time { return now }))

		resp, err := client.Do(newRequest(t))
		require.NoError(t, err)
		resp.Body.Close()

		require.Len(t, rec.delays, 1)
		assert.GreaterOrEqual(t, rec.delays[0], 5*time.Second)
		assert.Equal(t, 6*time.Second, rec.delays[0])
	})

	t.Run("fails on the final attempt", func(t *testing.T) {
		doer := &scriptedDoer{steps: []func() (*http.Response, error){limited, limited, limited}}
		rec := &sleepRecorder{}
		client := New(doer, DefaultPolicy(), WithSleeper(rec.sleep), WithClock(func() time.Time { return now }))

		resp, err := client.Do(newRequest(t))
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, ErrRateLimitExceeded)
		assert.Equal(t, 3, doer.calls)
		assert.Len(t, rec.delays, 2)
	})

	t.Run("reset in the past does not wait negative", func(t *testing.T) {
		past := status(http.StatusForbidden, map[string]string{
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     strconv.FormatInt(now.Add(-time.Minute).Unix(), 10),
		})
		doer := &scriptedDoer{steps: []func() (*http.Response, error){past, status(http.StatusOK, nil)}}
		rec := &sleepRecorder{}
		client := New(doer, DefaultPolicy(), WithSleeper(rec.sleep), WithClock(func() time.Time { return now }))

		resp, err := client.Do(newRequest(t))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, []time.Duration{0}, rec.delays)
	})
}

func TestDoForbiddenWithoutRateLimitIsOrdinaryFailure(t *testing.T) {
	forbidden := status(http.StatusForbidden, map[string]string{"X-RateLimit-Remaining": "12"})
	doer := &scriptedDoer{steps: []func() (*http.Response, error){forbidden, forbidden, forbidden}}
	rec := &sleepRecorder{}
	client := New(doer, DefaultPolicy(), WithSleeper(rec.sleep))

	_, err := client.Do(newRequest(t))

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusForbidden, fetchErr.StatusCode)
	assert.Equal(t, 3, fetchErr.Attempts)
	assert.NotErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestDoNotFoundIsTerminal(t *testing.T) {
	doer := &scriptedDoer{steps: []func() (*http.Response, error){status(http.StatusNotFound, nil)}}
	rec := &sleepRecorder{}
	client := New(doer, DefaultPolicy(), WithSleeper(rec.sleep))

	_, err := client.Do(newRequest(t))

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	assert.Equal(t, 1, doer.calls)
	assert.Empty(t, rec.delays)
}

func TestDoTransportErrors(t *testing.T) {
	errBoom := errors.New("connection reset by peer")

	t.Run("recovers after a transient error", func(t *testing.T) {
		doer := &scriptedDoer{steps: []func() (*http.Response, error){failure(errBoom), status(http.StatusOK, nil)}}
		rec := &sleepRecorder{}
		client := New(doer, DefaultPolicy(), WithSleeper(rec.sleep))

		resp, err := client.Do(newRequest(t))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, []time.Duration{time.Second}, rec.delays)
	})

	t.Run("returns the original error when exhausted", func(t *testing.T) {
		doer := &scriptedDoer{steps: []func() (*http.Response, error){failure(errBoom), failure(errBoom), failure(errBoom)}}
		rec := &sleepRecorder{}
		client := New(doer, DefaultPolicy(), WithSleeper(rec.sleep))

		_, err := client.Do(newRequest(t))
		assert.Same(t, errBoom, err)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
	})
}

func TestDoHonoursCustomPolicy(t *testing.T) {
	doer := &scriptedDoer{steps: []func() (*http.Response, error){
		status(http.StatusBadGateway, nil),
		status(http.StatusBadGateway, nil),
		status(http.StatusBadGateway, nil),
		status(http.StatusBadGateway, nil),
		status(http.StatusOK, nil),
	}}
	rec := &sleepRecorder{}
	client := New(doer, Policy{Attempts: 5, BaseDelay: 250 * time.Millisecond}, WithSleeper(rec.sleep))

	resp, err := client.Do(newRequest(t))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, []time.Duration{
		250 * time.Millisecond,
		500 * time.Millisecond,
		750 * time.Millisecond,
		time.Second,
	}, rec.delays)
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := New(server.Client(), DefaultPolicy(), WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestDoRewindsRequestBody(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rec := &sleepRecorder{}
	client := New(server.Client(), DefaultPolicy(), WithSleeper(rec.sleep))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, strings.NewReader(`{"q":1}`))
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, []string{`{"q":1}`, `{"q":1}`}, bodies)
}
