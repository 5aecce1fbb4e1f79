// Package account implements the account commands and queries on top of the
// command pipeline.
package account

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/eventrelay/internal/application/cache"
	"github.com/cassiomorais/eventrelay/internal/application/dispatch"
	"github.com/cassiomorais/eventrelay/internal/application/pipeline"
	"github.com/cassiomorais/eventrelay/internal/domain/account"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SupportedCurrencies are the ISO codes accounts may be opened in.
var SupportedCurrencies = map[string]bool{"USD": true, "EUR": true, "GBP": true, "BRL": true}

// CacheMetrics observes read-through cache lookups.
type CacheMetrics interface {
	ObserveCacheLookup(hit bool)
}

type Deps struct {
	Repo       account.Repository
	Dispatcher *dispatch.Dispatcher
	Pipeline   pipeline.Deps
	// Cache is optional; without it GetAccount always reads the repository.
	Cache        cache.Cache
	CacheTTL     time.Duration
	CacheMetrics CacheMetrics
	Logger       zerolog.Logger
}

// Service exposes every account operation as a pipeline-wrapped handler.
type Service struct {
	repo         account.Repository
	dispatcher   *dispatch.Dispatcher
	cache        cache.Cache
	cacheTTL     time.Duration
	cacheMetrics CacheMetrics
	logger       zerolog.Logger

	open     pipeline.Handler[OpenAccount, View]
	deposit  pipeline.Handler[Deposit, View]
	withdraw pipeline.Handler[Withdraw, View]
	suspend  pipeline.Handler[Suspend, View]
	get      pipeline.Handler[GetAccount, View]
}

func NewService(deps Deps) *Service {
	s := &Service{
		repo:         deps.Repo,
		dispatcher:   deps.Dispatcher,
		cache:        deps.Cache,
		cacheTTL:     deps.CacheTTL,
		cacheMetrics: deps.CacheMetrics,
		logger:       deps.Logger.With().Str("component", "account_service").Logger(),
	}

	if deps.Pipeline.Validators != nil {
		pipeline.RegisterValidator[OpenAccount](deps.Pipeline.Validators, validateCurrency)
	}

	s.open = pipeline.Command("OpenAccount", s.handleOpen, deps.Pipeline)
	s.deposit = pipeline.Command("Deposit", s.handleDeposit, deps.Pipeline)
	s.withdraw = pipeline.Command("Withdraw", s.handleWithdraw, deps.Pipeline)
	s.suspend = pipeline.Command("Suspend", s.handleSuspend, deps.Pipeline)
	s.get = pipeline.Query("GetAccount", s.handleGet, deps.Pipeline)
	return s
}

func (s *Service) OpenAccount(ctx context.Context, cmd OpenAccount) (View, error) {
	return s.open(ctx, cmd)
}

func (s *Service) Deposit(ctx context.Context, cmd Deposit) (View, error) {
	return s.deposit(ctx, cmd)
}

func (s *Service) Withdraw(ctx context.Context, cmd Withdraw) (View, error) {
	return s.withdraw(ctx, cmd)
}

func (s *Service) Suspend(ctx context.Context, cmd Suspend) (View, error) {
	return s.suspend(ctx, cmd)
}

func (s *Service) GetAccount(ctx context.Context, q GetAccount) (View, error) {
	return s.get(ctx, q)
}

func validateCurrency(_ context.Context, cmd OpenAccount) []pipeline.FieldError {
	if cmd.Currency != "" && !SupportedCurrencies[cmd.Currency] {
		return []pipeline.FieldError{{Field: "currency", Message: "is not supported"}}
	}
	return nil
}

func (s *Service) handleOpen(ctx context.Context, cmd OpenAccount) (View, error) {
	acct, err := account.Open(cmd.OwnerID, cmd.InitialBalance, cmd.Currency)
	if err != nil {
		return View{}, err
	}
	if err := s.repo.Add(ctx, acct); err != nil {
		return View{}, fmt.Errorf("add account: %w", err)
	}
	return s.finish(ctx, acct)
}

func (s *Service) handleDeposit(ctx context.Context, cmd Deposit) (View, error) {
	return s.mutate(ctx, cmd.AccountID, func(a *account.Account) error {
		return a.Deposit(cmd.Amount)
	})
}

func (s *Service) handleWithdraw(ctx context.Context, cmd Withdraw) (View, error) {
	return s.mutate(ctx, cmd.AccountID, func(a *account.Account) error {
		return a.Withdraw(cmd.Amount)
	})
}

func (s *Service) handleSuspend(ctx context.Context, cmd Suspend) (View, error) {
	return s.mutate(ctx, cmd.AccountID, func(a *account.Account) error {
		return a.Suspend(cmd.Reason)
	})
}

// mutate loads the account, applies change and saves it unless change
// recorded nothing.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, change func(*account.Account) error) (View, error) {
	acct, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return View{}, err
	}
	if err := change(acct); err != nil {
		return View{}, err
	}
	if len(acct.DomainEvents()) == 0 {
		return NewView(acct), nil
	}
	if err := s.repo.Update(ctx, acct); err != nil {
		return View{}, fmt.Errorf("update account %s: %w", acct.ID, err)
	}
	return s.finish(ctx, acct)
}

// finish dispatches the aggregate's domain events inside the command so
// their handlers' staged events and writes share its unit of work.
func (s *Service) finish(ctx context.Context, acct *account.Account) (View, error) {
	if err := s.dispatcher.Dispatch(ctx, acct.PullDomainEvents()); err != nil {
		return View{}, err
	}
	return NewView(acct), nil
}

func (s *Service) handleGet(ctx context.Context, q GetAccount) (View, error) {
	key := CacheKey(q.AccountID)

	if s.cache != nil {
		var cached View
		hit, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		if s.cacheMetrics != nil {
			s.cacheMetrics.ObserveCacheLookup(hit && err == nil)
		}
		if hit && err == nil {
			return cached, nil
		}
	}

	acct, err := s.repo.GetByID(ctx, q.AccountID)
	if err != nil {
		return View{}, err
	}
	view := NewView(acct)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, view, s.cacheTTL); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
	}
	return view, nil
}
