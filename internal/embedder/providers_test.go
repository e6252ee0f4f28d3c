package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embeddingRequestBody struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
}

type embeddingData struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// fakeAPI serves the OpenAI embeddings endpoint. Each input gets the vector
// [len(text), index, 1]. Data comes back in reverse order.
type fakeAPI struct {
	calls    atomic.Int32
	inputs   atomic.Int32
	failures int32 // first n calls fail with status
	status   int
	lastBody embeddingRequestBody
}

func (f *fakeAPI) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := f.calls.Add(1)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		if n <= f.failures {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.status)
			_, _ = fmt.Fprintf(w, `{"error":{"message":"failure %d","type":"server_error"}}`, n)
			return
		}

		var body embeddingRequestBody
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.lastBody = body
		f.inputs.Add(int32(len(body.Input)))

		data := make([]embeddingData, 0, len(body.Input))
		for i := len(body.Input) - 1; i >= 0; i-- {
			data = append(data, embeddingData{
				Object:    "embedding",
				Embedding: []float32{float32(len(body.Input[i])), float32(i), 1},
				Index:     i,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  body.Model,
			"usage":  map[string]int{"prompt_tokens": 3, "total_tokens": 3},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fastRetry() *RetryConfig {
	return &RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestAPIProvider_OpenAI(t *testing.T) {
	api := &fakeAPI{}
	srv := api.server(t)

	p, err := NewOpenAIProvider(APIConfig{APIKey: "test-key", BaseURL: srv.URL + "/", Retry: fastRetry()})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, ProviderOpenAI, p.Provider())
	assert.Equal(t, DefaultOpenAIModel, p.Model())
	assert.Equal(t, OpenAIDimension, p.Dimension())

	vec, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 0, 1}, vec)
	assert.Equal(t, DefaultOpenAIModel, api.lastBody.Model)
	assert.Zero(t, api.lastBody.Dimensions, "dimensions omitted unless configured")
}

func TestAPIProvider_BatchOrderFollowsIndex(t *testing.T) {
	api := &fakeAPI{}
	srv := api.server(t)

	p, err := NewJinaProvider(APIConfig{APIKey: "test-key", BaseURL: srv.URL, Dimensions: 3, Retry: fastRetry()})
	require.NoError(t, err)

	vectors, err := p.EmbedBatch(context.Background(), []string{"a", "bbb", "cc"})
	require.NoError(t, err)

	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{1, 0, 1}, vectors[0])
	assert.Equal(t, []float32{3, 1, 1}, vectors[1])
	assert.Equal(t, []float32{2, 2, 1}, vectors[2])
	assert.Equal(t, ProviderJina, p.Provider())
	assert.Equal(t, DefaultJinaModel, api.lastBody.Model)
	assert.Equal(t, 3, api.lastBody.Dimensions)
	assert.Equal(t, 3, p.Dimension())
}

func TestAPIProvider_Caching(t *testing.T) {
	api := &fakeAPI{}
	srv := api.server(t)
	cache := NewCache(10)

	p, err := NewOpenAIProvider(APIConfig{APIKey: "test-key", BaseURL: srv.URL, Cache: cache, Retry: fastRetry()})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.Embed(ctx, "cached")
	require.NoError(t, err)
	_, err = p.Embed(ctx, "cached")
	require.NoError(t, err)
	assert.Equal(t, int32(1), api.calls.Load())

	// Only the uncached text is sent
	vectors, err := p.EmbedBatch(ctx, []string{"cached", "fresh"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), api.calls.Load())
	assert.Equal(t, int32(2), api.inputs.Load())
	assert.Equal(t, []float32{6, 0, 1}, vectors[0])
	assert.Equal(t, []float32{5, 0, 1}, vectors[1])

	// A different model never reuses entries
	other, err := NewOpenAIProvider(APIConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "other-model", Cache: cache, Retry: fastRetry()})
	require.NoError(t, err)
	_, err = other.Embed(ctx, "cached")
	require.NoError(t, err)
	assert.Equal(t, "other-model", api.lastBody.Model)
	assert.Equal(t, int32(3), api.calls.Load())

	hits, _ := cache.Stats()
	assert.Equal(t, uint64(2), hits)
}

func TestAPIProvider_RetriesServerErrors(t *testing.T) {
	api := &fakeAPI{failures: 2, status: http.StatusInternalServerError}
	srv := api.server(t)

	p, err := NewOpenAIProvider(APIConfig{APIKey: "test-key", BaseURL: srv.URL, Retry: fastRetry()})
	require.NoError(t, err)

	vec, err := p.Embed(context.Background(), "retry")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, int32(3), api.calls.Load())
}

func TestAPIProvider_GivesUpAfterMaxRetries(t *testing.T) {
	api := &fakeAPI{failures: 100, status: http.StatusServiceUnavailable}
	srv := api.server(t)

	p, err := NewOpenAIProvider(APIConfig{APIKey: "test-key", BaseURL: srv.URL, Retry: fastRetry()})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "down")
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(3), api.calls.Load())
}

func TestAPIProvider_ClientErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		status    int
		wantCalls int32
	}{
		{http.StatusBadRequest, 1},
		{http.StatusUnauthorized, 1},
		{http.StatusTooManyRequests, 3},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			api := &fakeAPI{failures: 100, status: tt.status}
			srv := api.server(t)

			p, err := NewOpenAIProvider(APIConfig{APIKey: "test-key", BaseURL: srv.URL, Retry: fastRetry()})
			require.NoError(t, err)

			_, err = p.Embed(context.Background(), "x")
			assert.ErrorIs(t, err, ErrProviderFailed)
			assert.Equal(t, tt.wantCalls, api.calls.Load())
		})
	}
}

func TestAPIProvider_ContextCancellation(t *testing.T) {
	api := &fakeAPI{failures: 100, status: http.StatusInternalServerError}
	srv := api.server(t)

	slow := &RetryConfig{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}
	p, err := NewOpenAIProvider(APIConfig{APIKey: "test-key", BaseURL: srv.URL, Retry: slow})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = p.Embed(ctx, "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAPIProvider_MissingKey(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "")
	t.Setenv(EnvJinaAPIKey, "")

	_, err := NewOpenAIProvider(APIConfig{})
	assert.ErrorIs(t, err, ErrNoProviderEnabled)

	_, err = NewJinaProvider(APIConfig{})
	assert.ErrorIs(t, err, ErrNoProviderEnabled)

	t.Setenv(EnvJinaAPIKey, "from-env")
	p, err := NewJinaProvider(APIConfig{})
	require.NoError(t, err)
	assert.Equal(t, JinaDimension, p.Dimension())
}

func TestAPIProvider_InvalidInput(t *testing.T) {
	api := &fakeAPI{}
	srv := api.server(t)
	p, err := NewOpenAIProvider(APIConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)
	_, err = p.EmbedBatch(context.Background(), []string{"ok", "  "})
	assert.ErrorIs(t, err, ErrEmptyText)

	vectors, err := p.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Zero(t, api.calls.Load())
}

func TestRetryWithBackoff(t *testing.T) {
	config := RetryConfig{MaxRetries: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 2}

	t.Run("succeeds after transient error", func(t *testing.T) {
		calls := 0
		result, err := retryWithBackoff(context.Background(), config, func() (string, error) {
			calls++
			if calls < 2 {
				return "", errors.New("transient")
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
		assert.Equal(t, 2, calls)
	})

	t.Run("backs off exponentially and returns last error", func(t *testing.T) {
		calls := 0
		start := time.Now()
		_, err := retryWithBackoff(context.Background(), config, func() (int, error) {
			calls++
			return 0, fmt.Errorf("error %d", calls)
		})
		assert.EqualError(t, err, "error 3")
		assert.Equal(t, 3, calls)
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})

	t.Run("permanent errors stop immediately", func(t *testing.T) {
		calls := 0
		boom := errors.New("bad request")
		_, err := retryWithBackoff(context.Background(), config, func() (int, error) {
			calls++
			return 0, permanent(boom)
		})
		assert.Equal(t, boom, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		_, err := retryWithBackoff(ctx, config, func() (int, error) {
			calls++
			cancel()
			return 0, errors.New("fails")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	assert.Nil(t, permanent(nil))
}
