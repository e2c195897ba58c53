package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/semmidev/markavault/internal/domain"
	"github.com/sony/gobreaker/v2"
	"github.com/sourcegraph/conc/iter"
)

type TransportConfig struct {
	// MaxRetries is the total number of attempts per provider call.
	MaxRetries int
	RetryDelay time.Duration
	// CallTimeout bounds a single attempt, not the whole retried call.
	CallTimeout time.Duration
}

type remote struct {
	provider domain.Provider
	breaker  *gobreaker.CircuitBreaker[struct{}]
}

// Transport fans calls out to the configured providers. Every call is retried
// up to MaxRetries times with RetryDelay between attempts, and each provider
// sits behind its own circuit breaker.
type Transport struct {
	remotes []remote
	cfg     TransportConfig
	logger  Logger
	metrics Metrics
}

func NewTransport(providers []domain.Provider, cfg TransportConfig, logger Logger, metrics Metrics) *Transport {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	t := &Transport{cfg: cfg, logger: logger, metrics: orNop(metrics)}
	for _, p := range providers {
		t.remotes = append(t.remotes, remote{provider: p, breaker: newBreaker(p.Name(), logger)})
	}
	return t
}

func newBreaker(name string, logger Logger) *gobreaker.CircuitBreaker[struct{}] {
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				logger.Warnf("[transport] provider %s unavailable, circuit open", name)
			} else {
				logger.Infof("[transport] provider %s circuit %s -> %s", name, from, to)
			}
		},
	})
}

func (t *Transport) HasProviders() bool {
	return len(t.remotes) > 0
}

func (t *Transport) ProviderNames() []string {
	names := make([]string, len(t.remotes))
	for i, r := range t.remotes {
		names[i] = r.provider.Name()
	}
	return names
}

func (t *Transport) lookup(name string) (remote, error) {
	for _, r := range t.remotes {
		if r.provider.Name() == name {
			return r, nil
		}
	}
	return remote{}, fmt.Errorf("unknown provider %q", name)
}

// call runs fn with bounded retry, returning the last error once attempts are
// exhausted. An open breaker fails immediately without further attempts.
func (t *Transport) call(ctx context.Context, r remote, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		_, err := r.breaker.Execute(func() (struct{}, error) {
			callCtx := ctx
			if t.cfg.CallTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, t.cfg.CallTimeout)
				defer cancel()
			}
			return struct{}{}, fn(callCtx)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(t.cfg.RetryDelay)),
		backoff.WithMaxTries(uint(t.cfg.MaxRetries)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			t.logger.Warnf("[transport] %s on %s failed (attempt %d/%d), retrying in %s: %v",
				op, r.provider.Name(), attempt, t.cfg.MaxRetries, next, err)
		}),
	)
	t.metrics.ProviderOp(r.provider.Name(), op, resultLabel(err))
	return err
}

// Upload sends localPath to every provider concurrently and waits for all of
// them. One result per provider is returned in configuration order; a
// failure on one provider never cancels the others.
func (t *Transport) Upload(ctx context.Context, localPath, remoteName string) []domain.ProviderResult {
	mapper := iter.Mapper[remote, domain.ProviderResult]{MaxGoroutines: len(t.remotes)}
	return mapper.Map(t.remotes, func(r *remote) domain.ProviderResult {
		err := t.call(ctx, *r, "upload", func(ctx context.Context) error {
			return r.provider.Upload(ctx, localPath, remoteName)
		})
		if err != nil {
			t.logger.Errorf("[transport] upload of %s to %s failed: %v", remoteName, r.provider.Name(), err)
		} else {
			t.logger.Infof("[transport] uploaded %s to %s", remoteName, r.provider.Name())
		}
		return domain.ProviderResult{Provider: r.provider.Name(), Err: err}
	})
}

func (t *Transport) Download(ctx context.Context, providerName, remoteName, localPath string) error {
	r, err := t.lookup(providerName)
	if err != nil {
		return err
	}
	return t.call(ctx, r, "download", func(ctx context.Context) error {
		return r.provider.Download(ctx, remoteName, localPath)
	})
}

func (t *Transport) List(ctx context.Context, providerName, prefix string) ([]domain.ObjectInfo, error) {
	r, err := t.lookup(providerName)
	if err != nil {
		return nil, err
	}
	var objects []domain.ObjectInfo
	err = t.call(ctx, r, "list", func(ctx context.Context) error {
		var listErr error
		objects, listErr = r.provider.List(ctx, prefix)
		return listErr
	})
	return objects, err
}

func (t *Transport) Delete(ctx context.Context, providerName, remoteName string) error {
	r, err := t.lookup(providerName)
	if err != nil {
		return err
	}
	return t.call(ctx, r, "delete", func(ctx context.Context) error {
		return r.provider.Delete(ctx, remoteName)
	})
}

// ListLatest picks the newest artifact under prefix across all providers.
// The newest ModTime wins; on equal times the lexicographically greatest key
// wins; on an equal key the provider configured first wins. Providers that
// fail to list are skipped unless all of them fail.
func (t *Transport) ListLatest(ctx context.Context, prefix string) (*domain.ObjectInfo, error) {
	if len(t.remotes) == 0 {
		return nil, domain.NewOpError(domain.ErrNoProviderConfigured, "list", nil)
	}

	type listing struct {
		objects []domain.ObjectInfo
		err     error
	}
	mapper := iter.Mapper[remote, listing]{MaxGoroutines: len(t.remotes)}
	listings := mapper.Map(t.remotes, func(r *remote) listing {
		var objects []domain.ObjectInfo
		err := t.call(ctx, *r, "list", func(ctx context.Context) error {
			var listErr error
			objects, listErr = r.provider.List(ctx, prefix)
			return listErr
		})
		return listing{objects: objects, err: err}
	})

	var (
		latest *domain.ObjectInfo
		errs   []error
	)
	for i, l := range listings {
		name := t.remotes[i].provider.Name()
		if l.err != nil {
			t.logger.Warnf("[transport] listing %s failed: %v", name, l.err)
			errs = append(errs, fmt.Errorf("%s: %w", name, l.err))
			continue
		}
		for _, obj := range l.objects {
			if !isArtifactFile(obj.Key) {
				continue
			}
			obj.Provider = name
			if latest == nil || newerThan(obj, *latest) {
				o := obj
				latest = &o
			}
		}
	}

	if len(errs) == len(t.remotes) {
		return nil, domain.NewOpError(domain.ErrTransportFailed, "list", errors.Join(errs...))
	}
	if latest == nil {
		return nil, domain.ErrNoArtifact
	}
	return latest, nil
}

// newerThan is a strict order, so the first provider keeps ties on an
// identical key.
func newerThan(a, b domain.ObjectInfo) bool {
	if !a.ModTime.Equal(b.ModTime) {
		return a.ModTime.After(b.ModTime)
	}
	return a.Key > b.Key
}
