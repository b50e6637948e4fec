package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/snips/portfolio-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// RunInTx runs against a private copy of the state and swaps it in only when
// fn succeeds, so rollback behaves like the database.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (s *MemoryStore) RunInTx(_ context.Context, fn func(q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	if err := fn(next); err != nil {
		return err
	}
	s.state = next
	return nil
}

// View runs fn against a copy of the state; writes made through it are discarded.
func (s *MemoryStore) View(_ context.Context, fn func(q Queries) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(snapshot)
}

type holdingKey struct{ portfolioID, instrumentID string }
type barKey struct {
	instrumentID string
	timeframe    model.Timeframe
	asOf         int64
}
type snapshotKey struct {
	userID, timeframe string
	asOf              int64
}
type lessonKey struct{ userID, lessonID string }

type memState struct {
	users      map[string]model.User
	portfolios map[string]model.Portfolio
	holdings   map[holdingKey]model.Holding
	txs        map[string]model.PortfolioTransaction
	txOrder    []string
	stats      map[string]model.PortfolioStats
	prices     map[string]model.LatestPrice
	bars       map[barKey]model.PriceBar
	xpLog      []model.XPTransaction
	snapshots  map[snapshotKey]model.XPSnapshot
	lessons    map[lessonKey]model.UserLesson
}

func newMemState() *memState {
	return &memState{
		users:      make(map[string]model.User),
		portfolios: make(map[string]model.Portfolio),
		holdings:   make(map[holdingKey]model.Holding),
		txs:        make(map[string]model.PortfolioTransaction),
		stats:      make(map[string]model.PortfolioStats),
		prices:     make(map[string]model.LatestPrice),
		bars:       make(map[barKey]model.PriceBar),
		snapshots:  make(map[snapshotKey]model.XPSnapshot),
		lessons:    make(map[lessonKey]model.UserLesson),
	}
}

// clone copies every table. Rows are stored by value so a shallow map copy
// is enough to isolate writes.
func (m *memState) clone() *memState {
	return &memState{
		users:      maps.Clone(m.users),
		portfolios: maps.Clone(m.portfolios),
		holdings:   maps.Clone(m.holdings),
		txs:        maps.Clone(m.txs),
		txOrder:    slices.Clone(m.txOrder),
		stats:      maps.Clone(m.stats),
		prices:     maps.Clone(m.prices),
		bars:       maps.Clone(m.bars),
		xpLog:      slices.Clone(m.xpLog),
		snapshots:  maps.Clone(m.snapshots),
		lessons:    maps.Clone(m.lessons),
	}
}

func notFound(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

func constraint(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrStorage)...)
}

// --- Users ---

func (m *memState) CreateUser(_ context.Context, u *model.User) error {
	if _, ok := m.users[u.ID]; ok {
		return constraint("user %s already exists", u.ID)
	}
	m.users[u.ID] = *u
	return nil
}

func (m *memState) GetUser(_ context.Context, id string) (*model.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, notFound("user %s", id)
	}
	return &u, nil
}

func (m *memState) SetReferrer(_ context.Context, userID, referrerID string) error {
	u, ok := m.users[userID]
	if !ok {
		return notFound("user %s", userID)
	}
	if _, ok := m.users[referrerID]; !ok {
		return constraint("referrer %s does not exist", referrerID)
	}
	u.ReferrerID = &referrerID
	m.users[userID] = u
	return nil
}

func (m *memState) ClearReferrer(_ context.Context, referrerID string) error {
	for id, u := range m.users {
		if u.ReferrerID != nil && *u.ReferrerID == referrerID {
			u.ReferrerID = nil
			m.users[id] = u
		}
	}
	return nil
}

func (m *memState) SetPremium(_ context.Context, userID string, premium bool) error {
	return m.updateUser(userID, func(u *model.User) { u.IsPremium = premium })
}

func (m *memState) AddUserXP(_ context.Context, userID string, delta int64) error {
	return m.updateUser(userID, func(u *model.User) {
		u.XPTotal += delta
		u.XPCurrentWeek += delta
		u.XPCurrentSeason += delta
	})
}

func (m *memState) AdjustCredits(_ context.Context, userID string, delta int64) error {
	return m.updateUser(userID, func(u *model.User) {
		u.CreditBalance = max(u.CreditBalance+delta, 0)
	})
}

func (m *memState) RefillCredits(_ context.Context, floor int64) (int64, error) {
	var n int64
	for id, u := range m.users {
		if u.CreditBalance < floor {
			u.CreditBalance = floor
			m.users[id] = u
			n++
		}
	}
	return n, nil
}

func (m *memState) ResetWeeklyXP(_ context.Context) error {
	for id, u := range m.users {
		u.XPCurrentWeek = 0
		m.users[id] = u
	}
	return nil
}

func (m *memState) ResetSeasonXP(_ context.Context) error {
	for id, u := range m.users {
		u.XPCurrentSeason = 0
		m.users[id] = u
	}
	return nil
}

func (m *memState) SetWeeklyXP(_ context.Context, userID string, xp int64) error {
	return m.updateUser(userID, func(u *model.User) { u.XPCurrentWeek = xp })
}

func (m *memState) TopUsersByXP(_ context.Context, board XPBoard, limit int) ([]model.User, error) {
	score := func(u model.User) int64 { return u.XPTotal }
	switch board {
	case BoardWeekly:
		score = func(u model.User) int64 { return u.XPCurrentWeek }
	case BoardSeason:
		score = func(u model.User) int64 { return u.XPCurrentSeason }
	case BoardTotal:
	default:
		return nil, fmt.Errorf("%w: unknown leaderboard %q", model.ErrConfiguration, board)
	}

	users := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		if u.Status == model.UserActive {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if score(users[i]) != score(users[j]) {
			return score(users[i]) > score(users[j])
		}
		return users[i].ID < users[j].ID
	})
	return truncate(users, limit), nil
}

func (m *memState) DeleteUser(_ context.Context, id string) error {
	if _, ok := m.users[id]; !ok {
		return notFound("user %s", id)
	}
	for _, p := range m.portfolios {
		if p.UserID == id {
			return constraint("user %s still owns portfolio %s", id, p.ID)
		}
	}
	for _, x := range m.xpLog {
		if x.UserID == id {
			return constraint("user %s still has xp transactions", id)
		}
	}
	for k := range m.snapshots {
		if k.userID == id {
			return constraint("user %s still has xp snapshots", id)
		}
	}
	for k := range m.lessons {
		if k.userID == id {
			return constraint("user %s still has lessons", id)
		}
	}
	for _, u := range m.users {
		if u.ReferrerID != nil && *u.ReferrerID == id {
			return constraint("user %s is still referenced by %s", id, u.ID)
		}
	}
	delete(m.users, id)
	return nil
}

func (m *memState) updateUser(id string, fn func(u *model.User)) error {
	u, ok := m.users[id]
	if !ok {
		return notFound("user %s", id)
	}
	fn(&u)
	m.users[id] = u
	return nil
}

// --- Portfolios ---

func (m *memState) CreatePortfolio(_ context.Context, p *model.Portfolio) error {
	if _, ok := m.users[p.UserID]; !ok {
		return constraint("portfolio owner %s does not exist", p.UserID)
	}
	if _, ok := m.portfolios[p.ID]; ok {
		return constraint("portfolio %s already exists", p.ID)
	}
	m.portfolios[p.ID] = *p
	return nil
}

func (m *memState) GetPortfolio(_ context.Context, id string) (*model.Portfolio, error) {
	p, ok := m.portfolios[id]
	if !ok {
		return nil, notFound("portfolio %s", id)
	}
	return &p, nil
}

func (m *memState) UpdatePortfolio(_ context.Context, p *model.Portfolio) error {
	existing, ok := m.portfolios[p.ID]
	if !ok {
		return notFound("portfolio %s", p.ID)
	}
	if p.CashBalance.IsNegative() {
		return constraint("portfolio %s cash balance %s violates check", p.ID, p.CashBalance)
	}
	updated := *p
	updated.UserID = existing.UserID
	updated.CreatedAt = existing.CreatedAt
	m.portfolios[p.ID] = updated
	return nil
}

func (m *memState) CountActivePortfolios(_ context.Context, userID string) (int, error) {
	n := 0
	for _, p := range m.portfolios {
		if p.UserID == userID && p.IsActive() {
			n++
		}
	}
	return n, nil
}

func (m *memState) ListPortfolios(_ context.Context, userID string) ([]model.Portfolio, error) {
	var out []model.Portfolio
	for _, p := range m.portfolios {
		if p.UserID == userID && p.IsActive() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memState) ListActivePortfolioIDs(_ context.Context) ([]string, error) {
	var ids []string
	for id, p := range m.portfolios {
		if p.IsActive() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memState) ListUserPortfolioIDs(_ context.Context, userID string) ([]string, error) {
	var ids []string
	for id, p := range m.portfolios {
		if p.UserID == userID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memState) DeletePortfolio(_ context.Context, id string) error {
	if _, ok := m.portfolios[id]; !ok {
		return notFound("portfolio %s", id)
	}
	for k := range m.holdings {
		if k.portfolioID == id {
			return constraint("portfolio %s still has holdings", id)
		}
	}
	for _, t := range m.txs {
		if t.PortfolioID == id {
			return constraint("portfolio %s still has transactions", id)
		}
	}
	if _, ok := m.stats[id]; ok {
		return constraint("portfolio %s still has stats", id)
	}
	delete(m.portfolios, id)
	return nil
}

// --- Holdings ---

func (m *memState) GetHolding(_ context.Context, portfolioID, instrumentID string) (*model.Holding, error) {
	h, ok := m.holdings[holdingKey{portfolioID, instrumentID}]
	if !ok {
		return nil, notFound("holding %s/%s", portfolioID, instrumentID)
	}
	return &h, nil
}

func (m *memState) InsertHolding(_ context.Context, h *model.Holding) error {
	key := holdingKey{h.PortfolioID, h.InstrumentID}
	if _, ok := m.holdings[key]; ok {
		return constraint("holding %s/%s already exists", h.PortfolioID, h.InstrumentID)
	}
	if _, ok := m.portfolios[h.PortfolioID]; !ok {
		return constraint("holding portfolio %s does not exist", h.PortfolioID)
	}
	m.holdings[key] = *h
	return nil
}

func (m *memState) UpdateHolding(_ context.Context, h *model.Holding) error {
	key := holdingKey{h.PortfolioID, h.InstrumentID}
	existing, ok := m.holdings[key]
	if !ok {
		return notFound("holding %s/%s", h.PortfolioID, h.InstrumentID)
	}
	if h.Quantity.IsNegative() {
		return constraint("holding %s/%s quantity %s violates check", h.PortfolioID, h.InstrumentID, h.Quantity)
	}
	updated := *h
	updated.CreatedAt = existing.CreatedAt
	m.holdings[key] = updated
	return nil
}

func (m *memState) ListHoldings(_ context.Context, portfolioID string) ([]model.Holding, error) {
	var out []model.Holding
	for k, h := range m.holdings {
		if k.portfolioID == portfolioID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentID < out[j].InstrumentID })
	return out, nil
}

func (m *memState) ListHoldingsByInstrument(_ context.Context, instrumentID string) ([]model.Holding, error) {
	var out []model.Holding
	for k, h := range m.holdings {
		if k.instrumentID == instrumentID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PortfolioID < out[j].PortfolioID })
	return out, nil
}

func (m *memState) DeleteHoldings(_ context.Context, portfolioID string) error {
	for k := range m.holdings {
		if k.portfolioID == portfolioID {
			delete(m.holdings, k)
		}
	}
	return nil
}

// --- Portfolio transactions ---

func (m *memState) InsertTransaction(_ context.Context, t *model.PortfolioTransaction) error {
	if _, ok := m.txs[t.ID]; ok {
		return constraint("transaction %s already exists", t.ID)
	}
	if _, ok := m.portfolios[t.PortfolioID]; !ok {
		return constraint("transaction portfolio %s does not exist", t.PortfolioID)
	}
	m.txs[t.ID] = *t
	m.txOrder = append(m.txOrder, t.ID)
	return nil
}

func (m *memState) GetTransaction(_ context.Context, id string) (*model.PortfolioTransaction, error) {
	t, ok := m.txs[id]
	if !ok {
		return nil, notFound("transaction %s", id)
	}
	return &t, nil
}

func (m *memState) UpdateTransaction(_ context.Context, t *model.PortfolioTransaction) error {
	existing, ok := m.txs[t.ID]
	if !ok {
		return notFound("transaction %s", t.ID)
	}
	existing.Value = t.Value
	existing.ExAvgPrice = t.ExAvgPrice
	existing.Status = t.Status
	existing.ExecutedAt = t.ExecutedAt
	m.txs[t.ID] = existing
	return nil
}

func (m *memState) CountBuysSince(_ context.Context, portfolioID, instrumentID string, since time.Time) (int, error) {
	n := 0
	for _, t := range m.txs {
		if t.PortfolioID == portfolioID && t.Type == model.TxBuy && executedAfter(t, since) &&
			t.InstrumentID != nil && *t.InstrumentID == instrumentID {
			n++
		}
	}
	return n, nil
}

func (m *memState) CountBuyInstrumentsSince(_ context.Context, portfolioID string, since time.Time) (int, error) {
	seen := make(map[string]struct{})
	for _, t := range m.txs {
		if t.PortfolioID == portfolioID && t.Type == model.TxBuy && executedAfter(t, since) && t.InstrumentID != nil {
			seen[*t.InstrumentID] = struct{}{}
		}
	}
	return len(seen), nil
}

func (m *memState) CountMessagesSince(_ context.Context, portfolioID string, since time.Time) (int, error) {
	n := 0
	for _, t := range m.txs {
		if t.PortfolioID == portfolioID && t.InstrumentID != nil && t.HasMessage() && executedAfter(t, since) {
			n++
		}
	}
	return n, nil
}

func (m *memState) SumTransactionValues(_ context.Context, portfolioID string, typ model.TransactionType) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, t := range m.txs {
		if t.PortfolioID == portfolioID && t.Type == typ && t.Status == model.StatusExecuted && t.Value.Valid {
			sum = sum.Add(t.Value.Decimal)
		}
	}
	return sum, nil
}

func (m *memState) ListTransactions(_ context.Context, portfolioID string, limit, offset int) ([]model.PortfolioTransaction, error) {
	var out []model.PortfolioTransaction
	for i := len(m.txOrder) - 1; i >= 0; i-- {
		t, ok := m.txs[m.txOrder[i]]
		if ok && t.PortfolioID == portfolioID {
			out = append(out, t)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	return truncate(out[offset:], limit), nil
}

func (m *memState) ListPublicTrades(_ context.Context, limit int) ([]model.PortfolioTransaction, error) {
	var out []model.PortfolioTransaction
	for _, t := range m.txs {
		p, ok := m.portfolios[t.PortfolioID]
		if !ok || !p.IsPublic || !p.IsActive() {
			continue
		}
		if t.Status == model.StatusExecuted && t.Type.IsTrade() && t.ExecutedAt != nil {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExecutedAt.Equal(*out[j].ExecutedAt) {
			return out[i].ExecutedAt.After(*out[j].ExecutedAt)
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, limit), nil
}

func (m *memState) DeleteTransactions(_ context.Context, portfolioID string) error {
	kept := m.txOrder[:0:0]
	for _, id := range m.txOrder {
		if m.txs[id].PortfolioID == portfolioID {
			delete(m.txs, id)
			continue
		}
		kept = append(kept, id)
	}
	m.txOrder = kept
	return nil
}

func executedAfter(t model.PortfolioTransaction, since time.Time) bool {
	return t.Status == model.StatusExecuted && t.ExecutedAt != nil && t.ExecutedAt.After(since)
}

// --- Stats ---

func (m *memState) GetStats(_ context.Context, portfolioID string) (*model.PortfolioStats, error) {
	s, ok := m.stats[portfolioID]
	if !ok {
		return nil, notFound("stats %s", portfolioID)
	}
	return &s, nil
}

func (m *memState) InsertStats(_ context.Context, s *model.PortfolioStats) error {
	if _, ok := m.stats[s.PortfolioID]; ok {
		return constraint("stats %s already exist", s.PortfolioID)
	}
	m.stats[s.PortfolioID] = *s
	return nil
}

func (m *memState) UpdateStats(_ context.Context, s *model.PortfolioStats) error {
	if _, ok := m.stats[s.PortfolioID]; !ok {
		return notFound("stats %s", s.PortfolioID)
	}
	m.stats[s.PortfolioID] = *s
	return nil
}

func (m *memState) TopPortfoliosByGain(_ context.Context, limit int) ([]model.PortfolioStats, error) {
	var out []model.PortfolioStats
	for id, s := range m.stats {
		if p, ok := m.portfolios[id]; ok && p.IsPublic && p.IsActive() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Gain.Cmp(out[j].Gain); c != 0 {
			return c > 0
		}
		return out[i].PortfolioID < out[j].PortfolioID
	})
	return truncate(out, limit), nil
}

func (m *memState) DeleteStats(_ context.Context, portfolioID string) error {
	delete(m.stats, portfolioID)
	return nil
}

// --- Pricing snapshots ---

func (m *memState) GetLatestPrice(_ context.Context, instrumentID string) (*model.LatestPrice, error) {
	p, ok := m.prices[instrumentID]
	if !ok {
		return nil, notFound("latest price %s", instrumentID)
	}
	return &p, nil
}

func (m *memState) PutLatestPrice(_ context.Context, p *model.LatestPrice) error {
	m.prices[p.InstrumentID] = *p
	return nil
}

func (m *memState) ListPriceBars(_ context.Context, instrumentID string, tf model.Timeframe, since time.Time) ([]model.PriceBar, error) {
	var out []model.PriceBar
	for k, b := range m.bars {
		if k.instrumentID == instrumentID && k.timeframe == tf && !b.AsOf.Before(since) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AsOf.Before(out[j].AsOf) })
	return out, nil
}

func (m *memState) InsertPriceBar(_ context.Context, b *model.PriceBar) error {
	key := barKey{b.InstrumentID, b.Timeframe, b.AsOf.UnixNano()}
	if _, ok := m.bars[key]; !ok {
		m.bars[key] = *b
	}
	return nil
}

// --- XP ---

func (m *memState) InsertXPTransaction(_ context.Context, x *model.XPTransaction) error {
	if _, ok := m.users[x.UserID]; !ok {
		return constraint("xp transaction user %s does not exist", x.UserID)
	}
	m.xpLog = append(m.xpLog, *x)
	return nil
}

func (m *memState) SumXPSince(_ context.Context, userID string, reason model.XPReason, since time.Time) (int64, error) {
	var sum int64
	for _, x := range m.xpLog {
		if x.UserID == userID && x.Reason == reason && x.CreditedAt.After(since) {
			sum += x.Amount
		}
	}
	return sum, nil
}

func (m *memState) SumXPByUserSince(_ context.Context, since time.Time) (map[string]int64, error) {
	sums := make(map[string]int64)
	for _, x := range m.xpLog {
		if !x.CreditedAt.Before(since) {
			sums[x.UserID] += x.Amount
		}
	}
	return sums, nil
}

func (m *memState) ListXPTransactions(_ context.Context, userID string, limit int) ([]model.XPTransaction, error) {
	var out []model.XPTransaction
	for i := len(m.xpLog) - 1; i >= 0; i-- {
		if m.xpLog[i].UserID == userID {
			out = append(out, m.xpLog[i])
		}
	}
	return truncate(out, limit), nil
}

func (m *memState) InsertXPSnapshot(_ context.Context, s *model.XPSnapshot) error {
	if _, ok := m.users[s.UserID]; !ok {
		return constraint("xp snapshot user %s does not exist", s.UserID)
	}
	m.snapshots[snapshotKey{s.UserID, s.Timeframe, s.AsOf.UnixNano()}] = *s
	return nil
}

func (m *memState) DeleteXPTransactions(_ context.Context, userID string) error {
	m.xpLog = slices.DeleteFunc(m.xpLog, func(x model.XPTransaction) bool { return x.UserID == userID })
	return nil
}

func (m *memState) DeleteXPSnapshots(_ context.Context, userID string) error {
	for k := range m.snapshots {
		if k.userID == userID {
			delete(m.snapshots, k)
		}
	}
	return nil
}

// Snapshots returns every stored XP snapshot. Used by tests.
func (s *MemoryStore) Snapshots() []model.XPSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.XPSnapshot, 0, len(s.state.snapshots))
	for _, snap := range s.state.snapshots {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// --- Lessons ---

func (m *memState) GetUserLesson(_ context.Context, userID, lessonID string) (*model.UserLesson, error) {
	l, ok := m.lessons[lessonKey{userID, lessonID}]
	if !ok {
		return nil, notFound("lesson %s for user %s", lessonID, userID)
	}
	return &l, nil
}

func (m *memState) InsertUserLesson(_ context.Context, l *model.UserLesson) error {
	key := lessonKey{l.UserID, l.LessonID}
	if _, ok := m.lessons[key]; ok {
		return constraint("lesson %s for user %s already recorded", l.LessonID, l.UserID)
	}
	m.lessons[key] = *l
	return nil
}

func (m *memState) UpdateUserLesson(_ context.Context, l *model.UserLesson) error {
	key := lessonKey{l.UserID, l.LessonID}
	if _, ok := m.lessons[key]; !ok {
		return notFound("lesson %s for user %s", l.LessonID, l.UserID)
	}
	m.lessons[key] = *l
	return nil
}

func (m *memState) DeleteUserLessons(_ context.Context, userID string) error {
	for k := range m.lessons {
		if k.userID == userID {
			delete(m.lessons, k)
		}
	}
	return nil
}

func truncate[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
