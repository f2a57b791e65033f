// Package embedding turns text into fixed-dimension, unit-length vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"docqa/internal/models"
	"docqa/internal/retry"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Provider is a model backend. Implementations return one raw vector per
// input in input order; the Service handles batching, limits and checks.
type Provider interface {
	EmbeddingModel() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	BatchSize   int
	Concurrency int
	RateLimit   float64       // batch calls per second, 0 = unlimited
	Timeout     time.Duration // per call
	Dimensions  int           // expected size, 0 = take it from the first response
	Retry       retry.Policy
	// IsPermanent marks provider errors that must not be retried.
	IsPermanent func(error) bool
}

// Service wraps a Provider with batching, bounded concurrency, rate
// limiting, per-call timeouts, retries and output validation.
type Service struct {
	provider Provider
	opts     Options
	limiter  *rate.Limiter

	mu  sync.Mutex
	dim int
}

func NewService(provider Provider, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.IsPermanent == nil {
		opts.IsPermanent = func(error) bool { return false }
	}

	s := &Service{provider: provider, opts: opts, dim: opts.Dimensions}
	if opts.RateLimit > 0 {
		burst := int(math.Ceil(opts.RateLimit))
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return s
}

// Model identifies the embedding model; vectors from different models are
// never mixed in one index partition.
func (s *Service) Model() string {
	return s.provider.EmbeddingModel()
}

// Dimensions returns the vector size, or 0 before the first call when it
// was not configured.
func (s *Service) Dimensions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dim
}

// EmbedQuery embeds a single question.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Embed returns one normalized vector per text, in input order. Provider
// failures that survive the retry policy are reported as
// models.ErrEmbeddingServiceUnavailable.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	for start := 0; start < len(texts); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(texts))
		start := start
		g.Go(func() error {
			vectors, err := s.embedBatch(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("batch %d-%d: %w", start, end, err)
			}
			// Disjoint ranges; no lock needed
			copy(out[start:end], vectors)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingServiceUnavailable, err)
	}

	return out, nil
}

func (s *Service) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var vectors [][]float32

	err := s.opts.Retry.Do(ctx, func(ctx context.Context, _ int) error {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}
		}

		callCtx := ctx
		if s.opts.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
			defer cancel()
		}

		got, err := s.provider.Embed(callCtx, batch)
		if err != nil {
			if s.opts.IsPermanent(err) {
				return retry.Permanent(err)
			}
			return err
		}

		if err := s.validate(got, len(batch)); err != nil {
			return retry.Permanent(err)
		}
		vectors = got
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, v := range vectors {
		l2normalize(v)
	}
	return vectors, nil
}

var errMalformed = errors.New("malformed embedding response")

// validate checks the count and that every vector has the service dimension,
// learning the dimension from the first response when unset.
func (s *Service) validate(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: %d vectors for %d inputs", errMalformed, len(vectors), want)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w: empty vector at %d", errMalformed, i)
		}
		if s.dim == 0 {
			s.dim = len(v)
		}
		if len(v) != s.dim {
			return fmt.Errorf("%w: vector %d has dimension %d, expected %d", errMalformed, i, len(v), s.dim)
		}
	}
	return nil
}

// l2normalize scales v to unit length in place; zero vectors are left as is.
func l2normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
