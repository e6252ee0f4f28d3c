package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"unicode"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "hashed-bow-384"

	// Default endpoints, both speak the OpenAI embeddings API
	DefaultJinaBaseURL   = "https://api.jina.ai/v1"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// MaxBatchSize bounds one EmbedBatch call
	MaxBatchSize = 100

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0

	// Environment variables consulted when no key is configured
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// APIConfig configures an OpenAI-compatible provider
type APIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int // 0 uses the provider default and omits the field from requests
	Cache      *Cache
	Retry      *RetryConfig
	Logger     *zap.Logger
}

// APIProvider implements Embedder over an OpenAI-compatible embeddings endpoint
type APIProvider struct {
	name      string
	client    *openai.Client
	model     string
	dimension int
	sendDims  bool
	cache     *Cache
	retry     RetryConfig
	logger    *zap.Logger
}

// NewOpenAIProvider creates an embedder backed by the OpenAI API
func NewOpenAIProvider(cfg APIConfig) (*APIProvider, error) {
	return newAPIProvider(ProviderOpenAI, EnvOpenAIAPIKey, DefaultOpenAIBaseURL, DefaultOpenAIModel, OpenAIDimension, cfg)
}

// NewJinaProvider creates an embedder backed by the Jina AI API
func NewJinaProvider(cfg APIConfig) (*APIProvider, error) {
	return newAPIProvider(ProviderJina, EnvJinaAPIKey, DefaultJinaBaseURL, DefaultJinaModel, JinaDimension, cfg)
}

func newAPIProvider(name, keyEnv, baseURL, model string, dimension int, cfg APIConfig) (*APIProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(keyEnv)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, keyEnv)
	}
	if cfg.BaseURL != "" {
		baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Model != "" {
		model = cfg.Model
	}
	sendDims := cfg.Dimensions > 0
	if sendDims {
		dimension = cfg.Dimensions
	}

	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = baseURL

	p := &APIProvider{
		name:      name,
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		dimension: dimension,
		sendDims:  sendDims,
		cache:     cfg.Cache,
		retry:     DefaultRetryConfig(),
		logger:    cfg.Logger,
	}
	if cfg.Retry != nil {
		p.retry = *cfg.Retry
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p, nil
}

func (p *APIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := checkText(text); err != nil {
		return nil, err
	}
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch serves cached texts locally and sends the rest in one request
func (p *APIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := checkBatch(texts); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	var missing []int
	for i, text := range texts {
		if p.cache != nil {
			if v, ok := p.cache.Get(cacheKey(p.model, text)); ok {
				vectors[i] = v
				continue
			}
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return vectors, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = texts[i]
	}
	fresh, err := retryWithBackoff(ctx, p.retry, func() ([][]float32, error) {
		return p.callAPI(ctx, pending)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		p.logger.Warn("embedding request failed",
			zap.String("provider", p.name),
			zap.String("model", p.model),
			zap.Int("texts", len(pending)),
			zap.Error(err))
		return nil, err
	}

	for j, i := range missing {
		if p.cache != nil {
			p.cache.Set(cacheKey(p.model, texts[i]), fresh[j])
		}
		vectors[i] = fresh[j]
	}
	return vectors, nil
}

func (p *APIProvider) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          openai.EmbeddingModel(p.model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if p.sendDims {
		req.Dimensions = p.dimension
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, parseAPIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		if len(d.Embedding) == 0 {
			return nil, permanent(fmt.Errorf("%w: empty embedding at index %d", ErrProviderFailed, d.Index))
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (p *APIProvider) Dimension() int {
	return p.dimension
}

func (p *APIProvider) Provider() string {
	return p.name
}

func (p *APIProvider) Model() string {
	return p.model
}

func (p *APIProvider) Close() error {
	return nil
}

// parseAPIError wraps err with ErrProviderFailed. Client errors other than
// timeouts and rate limits are marked permanent.
func parseAPIError(err error) error {
	var status int
	var detail string

	var reqErr *openai.RequestError
	var apiErr *openai.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		detail = apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
		detail = extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
	default:
		return fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	wrapped := fmt.Errorf("%w: api error %d: %s", ErrProviderFailed, status, detail)
	if status >= 400 && status < 500 &&
		status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
		return permanent(wrapped)
	}
	return wrapped
}

// extractDetail reads the "detail" field some compatible servers use
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}

// LocalProvider embeds text offline by hashing words into a fixed number of
// buckets. Texts that share words get similar vectors, which is enough for
// tests and for running without an API key.
type LocalProvider struct {
	model string
	cache *Cache
}

// NewLocalProvider creates an offline embedder
func NewLocalProvider(cache *Cache) (*LocalProvider, error) {
	return &LocalProvider{
		model: DefaultLocalModel,
		cache: cache,
	}, nil
}

func (l *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := checkText(text); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := cacheKey(l.model, text)
	if l.cache != nil {
		if v, ok := l.cache.Get(key); ok {
			return v, nil
		}
	}
	v := hashedBagOfWords(text, LocalDimension)
	if l.cache != nil {
		l.cache.Set(key, v)
	}
	return v, nil
}

func (l *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := checkBatch(texts); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := l.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (l *LocalProvider) Dimension() int {
	return LocalDimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

// hashedBagOfWords maps each lowercased word to a signed bucket and returns
// the unit-length sum.
func hashedBagOfWords(text string, dim int) []float32 {
	vector := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()
		bucket := int(sum % uint64(dim))
		if sum&(1<<63) != 0 {
			vector[bucket]--
		} else {
			vector[bucket]++
		}
	}
	return NormalizeVector(vector)
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	if sum == 0 {
		return v
	}

	norm := math.Sqrt(sum)
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = float32(float64(val) / norm)
	}

	return result
}
