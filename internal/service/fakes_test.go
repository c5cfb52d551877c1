package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/boxmeout/marketcore/internal/domain"
)

// memStore is an in-memory stand-in for the persistence layer. It mirrors the
// database semantics the services rely on: conditional transitions that fail
// when the row is not in the required source state, per-(user, market)
// prediction uniqueness, and transactional rollback via snapshot/restore.
// The store interfaces are exposed through the memMarkets and memPredictions
// views since both declare Create/GetByID.
type memStore struct {
	mu          sync.Mutex
	markets     map[string]domain.Market
	predictions map[string]domain.Prediction
	balances    map[string]decimal.Decimal
	audits      []domain.AuditEntry
}

func newMemStore() *memStore {
	return &memStore{
		markets:     make(map[string]domain.Market),
		predictions: make(map[string]domain.Prediction),
		balances:    make(map[string]decimal.Decimal),
	}
}

func (s *memStore) marketStore() *memMarkets         { return &memMarkets{s} }
func (s *memStore) predictionStore() *memPredictions { return &memPredictions{s} }

var (
	_ domain.BalanceLedger = (*memStore)(nil)
	_ domain.AuditStore    = (*memStore)(nil)
	_ domain.TxRunner      = (*memStore)(nil)
)

// WithinTx snapshots all state and restores it when fn fails, imitating a
// rolled-back transaction.
func (s *memStore) WithinTx(_ context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	markets := cloneMap(s.markets)
	predictions := cloneMap(s.predictions)
	balances := cloneMap(s.balances)
	s.mu.Unlock()

	if err := fn(context.Background()); err != nil {
		s.mu.Lock()
		s.markets = markets
		s.predictions = predictions
		s.balances = balances
		s.mu.Unlock()
		return err
	}
	return nil
}

func cloneMap[V any](src map[string]V) map[string]V {
	dst := make(map[string]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// --- BalanceLedger ---

func (s *memStore) Debit(_ context.Context, userID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal := s.balances[userID]
	if bal.LessThan(amount) {
		return domain.ErrInsufficientBalance
	}
	s.balances[userID] = bal.Sub(amount)
	return nil
}

func (s *memStore) Credit(_ context.Context, userID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = s.balances[userID].Add(amount)
	return nil
}

func (s *memStore) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

// --- AuditStore ---

func (s *memStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, domain.AuditEntry{
		ID:        int64(len(s.audits) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *memStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEntry, len(s.audits))
	copy(out, s.audits)
	return out, nil
}

func (s *memStore) auditEvents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.audits))
	for _, e := range s.audits {
		out = append(out, e.Event)
	}
	return out
}

// Direct state helpers for test assertions and setup.

func (s *memStore) setPrediction(p domain.Prediction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predictions[p.ID] = p
}

func (s *memStore) prediction(id string) domain.Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.predictions[id]
}

func (s *memStore) market(id string) domain.Market {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markets[id]
}

// --- MarketStore view ---

type memMarkets struct{ s *memStore }

var _ domain.MarketStore = (*memMarkets)(nil)

func (v *memMarkets) Create(_ context.Context, m domain.Market) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.markets[m.ID] = m
	return nil
}

func (v *memMarkets) GetByID(_ context.Context, id string) (domain.Market, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	m, ok := v.s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (v *memMarkets) ListByStatus(_ context.Context, status domain.MarketStatus, _ domain.ListOpts) ([]domain.Market, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var out []domain.Market
	for _, m := range v.s.markets {
		if m.Status == status {
			out = append(out, m)
		}
	}
	sortMarkets(out)
	return out, nil
}

func (v *memMarkets) ListDueForClose(_ context.Context, now time.Time) ([]domain.Market, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var out []domain.Market
	for _, m := range v.s.markets {
		if m.Status == domain.MarketStatusOpen && !now.Before(m.ClosingAt) {
			out = append(out, m)
		}
	}
	sortMarkets(out)
	return out, nil
}

func (v *memMarkets) ListDueForResolution(_ context.Context, now time.Time) ([]domain.Market, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var out []domain.Market
	for _, m := range v.s.markets {
		if !m.Resolvable(now) || now.Before(m.ResolutionAt) {
			continue
		}
		out = append(out, m)
	}
	sortMarkets(out)
	return out, nil
}

func (v *memMarkets) MarkClosed(_ context.Context, id string, at time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	m, ok := v.s.markets[id]
	if !ok || m.Status != domain.MarketStatusOpen {
		return domain.ErrInvalidTransition
	}
	m.Status = domain.MarketStatusClosed
	m.ClosedAt = &at
	v.s.markets[id] = m
	return nil
}

func (v *memMarkets) MarkResolved(_ context.Context, id string, outcome domain.Outcome, source string, at time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	m, ok := v.s.markets[id]
	if !ok {
		return domain.ErrInvalidTransition
	}
	overdueOpen := m.Status == domain.MarketStatusOpen && !at.Before(m.ClosingAt)
	if m.Status != domain.MarketStatusClosed && !overdueOpen {
		return domain.ErrInvalidTransition
	}
	m.Status = domain.MarketStatusResolved
	m.WinningOutcome = &outcome
	m.ResolutionSource = source
	m.ResolvedAt = &at
	if m.ClosedAt == nil {
		m.ClosedAt = &at
	}
	v.s.markets[id] = m
	return nil
}

func (v *memMarkets) MarkCancelled(_ context.Context, id string, at time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	m, ok := v.s.markets[id]
	if !ok || (m.Status != domain.MarketStatusOpen && m.Status != domain.MarketStatusClosed) {
		return domain.ErrInvalidTransition
	}
	m.Status = domain.MarketStatusCancelled
	m.ClosedAt = &at
	v.s.markets[id] = m
	return nil
}

func (v *memMarkets) RecordCommit(_ context.Context, id string, amount decimal.Decimal, at time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	m, ok := v.s.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	if m.Status != domain.MarketStatusOpen || !at.Before(m.ClosingAt) {
		return domain.ErrMarketClosed
	}
	m.TotalVolume = m.TotalVolume.Add(amount)
	m.Participants++
	v.s.markets[id] = m
	return nil
}

func (v *memMarkets) RecordReveal(_ context.Context, id string, outcome domain.Outcome, amount decimal.Decimal, at time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	m, ok := v.s.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !at.Before(m.ClosingAt) {
		return domain.ErrRevealPeriodEnded
	}
	if outcome == domain.OutcomeYes {
		m.YesPool = m.YesPool.Add(amount)
	} else {
		m.NoPool = m.NoPool.Add(amount)
	}
	v.s.markets[id] = m
	return nil
}

func sortMarkets(ms []domain.Market) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })
}

// --- PredictionStore view ---

type memPredictions struct{ s *memStore }

var _ domain.PredictionStore = (*memPredictions)(nil)

func (v *memPredictions) Create(_ context.Context, p domain.Prediction) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, existing := range v.s.predictions {
		if existing.UserID == p.UserID && existing.MarketID == p.MarketID {
			return domain.ErrDuplicatePrediction
		}
	}
	v.s.predictions[p.ID] = p
	return nil
}

func (v *memPredictions) GetByID(_ context.Context, id string) (domain.Prediction, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	p, ok := v.s.predictions[id]
	if !ok {
		return domain.Prediction{}, domain.ErrNotFound
	}
	return p, nil
}

func (v *memPredictions) GetByUserMarket(_ context.Context, userID, marketID string) (domain.Prediction, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, p := range v.s.predictions {
		if p.UserID == userID && p.MarketID == marketID {
			return p, nil
		}
	}
	return domain.Prediction{}, domain.ErrNotFound
}

func (v *memPredictions) ListByMarket(_ context.Context, marketID string) ([]domain.Prediction, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var out []domain.Prediction
	for _, p := range v.s.predictions {
		if p.MarketID == marketID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *memPredictions) ListByUser(_ context.Context, userID string, _ domain.ListOpts) ([]domain.Prediction, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var out []domain.Prediction
	for _, p := range v.s.predictions {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *memPredictions) MarkRevealed(_ context.Context, id string, outcome domain.Outcome, at time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	p, ok := v.s.predictions[id]
	if !ok || p.Status != domain.PredictionStatusCommitted {
		return domain.ErrAlreadyRevealed
	}
	p.Status = domain.PredictionStatusRevealed
	p.Outcome = &outcome
	p.RevealedAt = &at
	p.EncryptedSalt = ""
	p.SaltNonce = ""
	v.s.predictions[id] = p
	return nil
}

func (v *memPredictions) MarkSettled(_ context.Context, id string, isWinner bool, pnl decimal.Decimal, at time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	p, ok := v.s.predictions[id]
	if !ok || (p.Status != domain.PredictionStatusCommitted && p.Status != domain.PredictionStatusRevealed) {
		return fmt.Errorf("no unsettled prediction %s: %w", id, domain.ErrNotFound)
	}
	p.Status = domain.PredictionStatusSettled
	p.IsWinner = &isWinner
	p.PnL = &pnl
	p.SettledAt = &at
	v.s.predictions[id] = p
	return nil
}

func (v *memPredictions) MarkClaimed(_ context.Context, id string, at time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	p, ok := v.s.predictions[id]
	if !ok || p.Status != domain.PredictionStatusSettled ||
		p.IsWinner == nil || !*p.IsWinner || p.WinningsClaimed {
		return domain.ErrAlreadyClaimed
	}
	p.WinningsClaimed = true
	p.ClaimedAt = &at
	v.s.predictions[id] = p
	return nil
}

// --- MarketCache ---

// memCache is a market cache whose entries never expire and whose
// invalidation can be forced to fail, standing in for a redis cache that
// kept a stale row past a state transition.
type memCache struct {
	mu            sync.Mutex
	entries       map[string]domain.Market
	invalidateErr error
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]domain.Market)}
}

func (c *memCache) Get(_ context.Context, id string) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *memCache) Set(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[m.ID] = m
	return nil
}

func (c *memCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.invalidateErr != nil {
		return c.invalidateErr
	}
	delete(c.entries, id)
	return nil
}

var _ domain.MarketCache = (*memCache)(nil)

// --- LockManager ---

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocks() *memLocks {
	return &memLocks{held: make(map[string]bool)}
}

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

var _ domain.LockManager = (*memLocks)(nil)

// --- Oracle ---

type fakeOracle struct {
	results map[string]domain.ConsensusResult
	err     error
	calls   int
}

func (o *fakeOracle) CheckConsensus(_ context.Context, marketID string) (domain.ConsensusResult, error) {
	o.calls++
	if o.err != nil {
		return domain.ConsensusResult{}, o.err
	}
	return o.results[marketID], nil
}

var _ domain.OracleConsensus = (*fakeOracle)(nil)

// --- LedgerMirror ---

type fakeMirror struct {
	commitments int
	reveals     int
	resolutions int
	err         error
}

func (m *fakeMirror) RecordCommitment(context.Context, domain.Prediction) (string, error) {
	m.commitments++
	return "ref-commit", m.err
}

func (m *fakeMirror) RecordReveal(context.Context, domain.Prediction) (string, error) {
	m.reveals++
	return "ref-reveal", m.err
}

func (m *fakeMirror) RecordResolution(context.Context, domain.Market) (string, error) {
	m.resolutions++
	return "ref-resolution", m.err
}

var _ domain.LedgerMirror = (*fakeMirror)(nil)

// --- ReportArchiver ---

type fakeArchiver struct {
	reports []domain.SettlementReport
	err     error
}

func (a *fakeArchiver) ArchiveSettlementReport(_ context.Context, report domain.SettlementReport) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.reports = append(a.reports, report)
	return "settlements/" + report.MarketID + ".json", nil
}

var _ domain.ReportArchiver = (*fakeArchiver)(nil)
