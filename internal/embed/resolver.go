package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/atlaslearn/atlas/internal/settings"
)

// Resolution is the outcome of resolving an embedding configuration:
// the callable embedder, its vector width, and the provider/model
// identifiers actually used (which may differ from the configured ones
// when defaults fill in).
type Resolution struct {
	Embedder  Embedder
	Dimension int
	Provider  string
	Model     string
}

// Resolver turns a merged configuration into a usable embedder.
//
// Local-model widths are probed once per (base URL, model, device) and
// cached; hosted widths come from a fixed table. Resolver is safe for
// concurrent use.
type Resolver struct {
	logger *slog.Logger

	// hostedLimiter is shared by every hosted embedder this resolver
	// hands out, so concurrent documents draw from one API quota.
	hostedLimiter *rate.Limiter

	mu        sync.Mutex
	probedDim map[string]int
}

// NewResolver creates a Resolver. logger may be nil.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		logger:        logger,
		hostedLimiter: rate.NewLimiter(hostedRequestsPerSecond, 1),
		probedDim:     make(map[string]int),
	}
}

// Resolve selects the embedding backend for the given configuration.
// The resolved dimension is validated against the supported widths; an
// out-of-set width fails resolution rather than being coerced.
func (r *Resolver) Resolve(ctx context.Context, cfg settings.Resolved) (*Resolution, error) {
	switch cfg.EmbeddingProvider {
	case settings.ProviderOpenAI:
		return r.resolveOpenAI(cfg)
	case settings.ProviderOllama:
		return r.resolveOllama(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q (supported: %s, %s)",
			ErrUnknownProvider, cfg.EmbeddingProvider,
			settings.ProviderOpenAI, settings.ProviderOllama)
	}
}

func (r *Resolver) resolveOpenAI(cfg settings.Resolved) (*Resolution, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("%w: hosted embedding provider requires an API key, add one in settings",
			ErrMissingAPIKey)
	}

	embedder := NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel)
	embedder.limiter = r.hostedLimiter

	dim := embedder.Dimensions()
	if err := ValidateDimension(embedder.Name(), dim); err != nil {
		return nil, err
	}

	return &Resolution{
		Embedder:  embedder,
		Dimension: dim,
		Provider:  settings.ProviderOpenAI,
		Model:     embedder.Name(),
	}, nil
}

func (r *Resolver) resolveOllama(ctx context.Context, cfg settings.Resolved) (*Resolution, error) {
	embedder := NewOllamaEmbedder(cfg.OllamaBaseURL, cfg.EmbeddingModel, cfg.LocalDevice)

	cacheKey := cfg.OllamaBaseURL + "|" + embedder.Name() + "|" + cfg.LocalDevice

	r.mu.Lock()
	cached, ok := r.probedDim[cacheKey]
	r.mu.Unlock()

	var dim int
	if ok {
		dim = cached
		embedder.dim = cached
	} else {
		probed, err := embedder.Probe(ctx)
		if err != nil {
			return nil, err
		}
		dim = probed

		r.mu.Lock()
		r.probedDim[cacheKey] = dim
		r.mu.Unlock()

		r.logger.Debug("probed local embedding model",
			"model", embedder.Name(), "dimension", dim, "device", cfg.LocalDevice)
	}

	if err := ValidateDimension(embedder.Name(), dim); err != nil {
		return nil, err
	}

	return &Resolution{
		Embedder:  embedder,
		Dimension: dim,
		Provider:  settings.ProviderOllama,
		Model:     embedder.Name(),
	}, nil
}
