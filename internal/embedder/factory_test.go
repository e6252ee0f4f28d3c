package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name      string
		provider  string
		jinaKey   string
		openaiKey string
		want      string
	}{
		{"explicit jina", "jina", "", "", ProviderJina},
		{"explicit openai", "OpenAI", "", "", ProviderOpenAI},
		{"explicit local wins over keys", "local", "k", "k", ProviderLocal},
		{"jina key present", "", "test-key", "", ProviderJina},
		{"openai key present", "", "", "test-key", ProviderOpenAI},
		{"jina preferred over openai", "", "test-key", "test-key", ProviderJina},
		{"nothing set", "", "", "", ProviderLocal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvProvider, tt.provider)
			t.Setenv(EnvJinaAPIKey, tt.jinaKey)
			t.Setenv(EnvOpenAIAPIKey, tt.openaiKey)

			assert.Equal(t, tt.want, DetectProvider())
		})
	}
}

func TestNew_DetectsProvider(t *testing.T) {
	t.Run("falls back to local", func(t *testing.T) {
		t.Setenv(EnvProvider, "")
		t.Setenv(EnvJinaAPIKey, "")
		t.Setenv(EnvOpenAIAPIKey, "")

		e, err := New(Config{CacheSize: DefaultCacheSize})
		require.NoError(t, err)
		assert.Equal(t, ProviderLocal, e.Provider())
		assert.NotNil(t, CacheOf(e))
	})

	t.Run("openai from key", func(t *testing.T) {
		t.Setenv(EnvProvider, "")
		t.Setenv(EnvJinaAPIKey, "")
		t.Setenv(EnvOpenAIAPIKey, "sk-test")

		e, err := New(Config{})
		require.NoError(t, err)
		assert.Equal(t, ProviderOpenAI, e.Provider())
		assert.Equal(t, OpenAIDimension, e.Dimension())
		assert.Nil(t, CacheOf(e))
	})

	t.Run("explicit provider without key", func(t *testing.T) {
		t.Setenv(EnvProvider, "jina")
		t.Setenv(EnvJinaAPIKey, "")

		_, err := New(Config{})
		assert.ErrorIs(t, err, ErrNoProviderEnabled)
	})

	t.Run("unknown provider", func(t *testing.T) {
		t.Setenv(EnvProvider, "cohere")

		_, err := New(Config{})
		assert.ErrorIs(t, err, ErrUnknownProvider)
	})
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantName  string
		wantDim   int
		wantModel string
		wantCache bool
		wantErr   error
	}{
		{
			name:      "local with cache",
			cfg:       Config{Provider: "local", CacheSize: 10},
			wantName:  ProviderLocal,
			wantDim:   LocalDimension,
			wantModel: DefaultLocalModel,
			wantCache: true,
		},
		{
			name:      "openai with overrides",
			cfg:       Config{Provider: "openai", APIKey: "k", Model: "text-embedding-3-large", Dimensions: 256},
			wantName:  ProviderOpenAI,
			wantDim:   256,
			wantModel: "text-embedding-3-large",
		},
		{
			name:      "jina defaults",
			cfg:       Config{Provider: "JINA", APIKey: "k", CacheSize: 5},
			wantName:  ProviderJina,
			wantDim:   JinaDimension,
			wantModel: DefaultJinaModel,
			wantCache: true,
		},
		{
			name:    "unknown",
			cfg:     Config{Provider: "word2vec"},
			wantErr: ErrUnknownProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer e.Close()

			assert.Equal(t, tt.wantName, e.Provider())
			assert.Equal(t, tt.wantDim, e.Dimension())
			assert.Equal(t, tt.wantModel, e.Model())
			assert.Equal(t, tt.wantCache, CacheOf(e) != nil)
		})
	}
}
