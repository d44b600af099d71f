package price

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/fredfun/settlement-engine/internal/model"
)

const baseKey = "base"

// Service answers price queries from the cache and falls back to the
// upstream APIs on a miss.
type Service struct {
	base  *CoinGecko
	token *DexScreener
	cache Cache
	mint  string
	log   *slog.Logger
}

// NewService creates a price service. mint is the token priced by Snapshot.
func NewService(base *CoinGecko, token *DexScreener, cache Cache, mint string) *Service {
	return &Service{base: base, token: token, cache: cache, mint: mint, log: slog.With("component", "price")}
}

// BaseUSD returns the USD price of the base asset.
func (s *Service) BaseUSD(ctx context.Context) (decimal.Decimal, error) {
	if v, ok := s.cache.Get(ctx, baseKey); ok {
		return v, nil
	}
	v, err := s.base.USD(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	s.cache.Set(ctx, baseKey, v)
	return v, nil
}

// AssetUSD returns the USD price of mint.
func (s *Service) AssetUSD(ctx context.Context, mint string) (decimal.Decimal, error) {
	if v, ok := s.cache.Get(ctx, mint); ok {
		return v, nil
	}
	v, err := s.token.USD(ctx, mint)
	if err != nil {
		return decimal.Zero, err
	}
	s.cache.Set(ctx, mint, v)
	return v, nil
}

// Snapshot fetches both prices concurrently. A price that could not be
// fetched is left at zero and reported in the joined error; the other is
// still returned.
func (s *Service) Snapshot(ctx context.Context) (model.Prices, error) {
	var (
		out  model.Prices
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.BaseUSD(gctx)
		if err != nil {
			record(err)
			return nil
		}
		out.BaseUSD = v
		return nil
	})
	g.Go(func() error {
		v, err := s.AssetUSD(gctx, s.mint)
		if err != nil {
			record(err)
			return nil
		}
		out.TokenUSD = v
		return nil
	})
	_ = g.Wait()

	if len(errs) > 0 {
		s.log.Warn("price snapshot incomplete", "error", errors.Join(errs...))
		return out, errors.Join(errs...)
	}
	return out, nil
}

// Refresh bypasses the cache and stores fresh upstream prices.
func (s *Service) Refresh(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.base.USD(gctx)
		if err != nil {
			return err
		}
		s.cache.Set(gctx, baseKey, v)
		return nil
	})
	g.Go(func() error {
		v, err := s.token.USD(gctx, s.mint)
		if err != nil {
			return err
		}
		s.cache.Set(gctx, s.mint, v)
		return nil
	})
	return g.Wait()
}

// Refresher keeps the cache warm on a cron schedule.
type Refresher struct {
	svc  *Service
	cron *cron.Cron
	spec string
	log  *slog.Logger
}

// NewRefresher schedules svc.Refresh on spec, e.g. "@every 30s".
func NewRefresher(svc *Service, spec string) *Refresher {
	return &Refresher{svc: svc, cron: cron.New(), spec: spec, log: slog.With("component", "price_refresher")}
}

// Start registers the job and starts the scheduler.
func (r *Refresher) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc(r.spec, func() {
		if err := r.svc.Refresh(ctx); err != nil {
			r.log.Warn("price refresh failed", "error", err)
			return
		}
		r.log.Debug("prices refreshed")
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.log.Info("price refresher started", "schedule", r.spec)
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}
