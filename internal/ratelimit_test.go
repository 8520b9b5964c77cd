package internal_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/letterduel/internal"
)

// fakeRateStore 記憶體版的限流儲存
type fakeRateStore struct {
	mu     sync.Mutex
	values map[string]string
	getErr error
	setErr error
}

func newFakeRateStore() *fakeRateStore {
	return &fakeRateStore{values: make(map[string]string)}
}

func (s *fakeRateStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", false, s.getErr
	}
	val, ok := s.values[key]
	return val, ok, nil
}

func (s *fakeRateStore) SetEx(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.values[key] = value
	return nil
}

func newLimiter(store *fakeRateStore) *internal.RateLimiter {
	return internal.NewRateLimiter(store, testLogger(), testConfig())
}

// TestRateLimiter_Guard 測試配額守門
func TestRateLimiter_Guard(t *testing.T) {
	t.Run("window replays cached response instead of re-executing", func(t *testing.T) {
		store := newFakeRateStore()
		executions := 0
		guarded := newLimiter(store).Guard(func(w http.ResponseWriter, r *http.Request) {
			executions++
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"answer":42}`))
		})

		const requests = 5
		for i := 0; i < requests; i++ {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard", nil)
			req.RemoteAddr = "10.0.0.1:40000"
			rec := httptest.NewRecorder()
			guarded(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"answer":42}`, rec.Body.String())
		}

		// 視窗內只有第一發真正執行
		assert.Equal(t, 1, executions)
	})

	t.Run("marker without cache returns 429", func(t *testing.T) {
		store := newFakeRateStore()
		store.values["rate_limit:10.0.0.1"] = "1"

		guarded := newLimiter(store).Guard(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard", nil)
		req.RemoteAddr = "10.0.0.1:40000"
		rec := httptest.NewRecorder()
		guarded(rec, req)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
	})

	t.Run("distinct clients get independent windows", func(t *testing.T) {
		store := newFakeRateStore()
		executions := 0
		guarded := newLimiter(store).Guard(func(w http.ResponseWriter, r *http.Request) {
			executions++
			w.Write([]byte(`{}`))
		})

		for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1"} {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard", nil)
			req.RemoteAddr = addr
			guarded(httptest.NewRecorder(), req)
		}

		assert.Equal(t, 3, executions)
	})

	t.Run("proxied client is identified by X-Forwarded-For", func(t *testing.T) {
		store := newFakeRateStore()
		guarded := newLimiter(store).Guard(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard", nil)
		req.RemoteAddr = "127.0.0.1:9999"
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		guarded(httptest.NewRecorder(), req)

		_, ok := store.values["rate_limit:203.0.113.7"]
		assert.True(t, ok)
	})

	t.Run("failed responses do not occupy the window", func(t *testing.T) {
		store := newFakeRateStore()
		executions := 0
		guarded := newLimiter(store).Guard(func(w http.ResponseWriter, r *http.Request) {
			executions++
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard", nil)
			req.RemoteAddr = "10.0.0.1:40000"
			guarded(httptest.NewRecorder(), req)
		}

		assert.Equal(t, 3, executions)
	})

	t.Run("store outage fails open", func(t *testing.T) {
		store := newFakeRateStore()
		store.getErr = errors.New("connection refused")

		executions := 0
		guarded := newLimiter(store).Guard(func(w http.ResponseWriter, r *http.Request) {
			executions++
			w.Write([]byte(`{}`))
		})

		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard", nil)
			req.RemoteAddr = "10.0.0.1:40000"
			rec := httptest.NewRecorder()
			guarded(rec, req)
			require.Equal(t, http.StatusOK, rec.Code)
		}

		assert.Equal(t, 3, executions)
	})
}
