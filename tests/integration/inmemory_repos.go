package integration

import (
	"context"
	"sync"
	"time"

	"donation-payments/internal/core/domain"
	"donation-payments/internal/core/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- In-Memory Transaction Store ---

// inMemoryStore mirrors the PostgreSQL repository's concurrency semantics:
// guarded compare-and-swap on status and an atomically bounded refund
// reservation. That makes the concurrency scenarios below meaningful without
// a live database.
type inMemoryStore struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*domain.Transaction
	byKey   map[string]uuid.UUID
	refunds map[uuid.UUID]*domain.Refund
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{
		byID:    make(map[uuid.UUID]*domain.Transaction),
		byKey:   make(map[string]uuid.UUID),
		refunds: make(map[uuid.UUID]*domain.Refund),
	}
}

func (s *inMemoryStore) Insert(ctx context.Context, txn *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byKey[txn.IdempotencyKey]; exists {
		return ports.ErrDuplicateIdempotencyKey
	}
	cp := *txn
	s.byID[cp.ID] = &cp
	s.byKey[cp.IdempotencyKey] = cp.ID
	return nil
}

func (s *inMemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *txn
	return &cp, nil
}

func (s *inMemoryStore) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, nil
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *inMemoryStore) TransitionState(ctx context.Context, id uuid.UUID, expected, next domain.TransactionStatus, fields ports.StateFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.byID[id]
	if !ok || txn.Status != expected {
		return ports.ErrStateConflict
	}
	txn.Status = next
	if fields.GatewayID != nil {
		txn.GatewayID = *fields.GatewayID
	}
	if fields.GatewayRef != nil {
		ref := *fields.GatewayRef
		txn.GatewayRef = &ref
	}
	if fields.FailureReason != nil {
		reason := *fields.FailureReason
		txn.FailureReason = &reason
	}
	txn.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *inMemoryStore) ReserveRefund(ctx context.Context, refund *domain.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.byID[refund.TransactionID]
	if !ok {
		return ports.ErrStateConflict
	}
	if txn.RefundedMinor+refund.AmountMinor > txn.AmountMinor {
		return ports.ErrRefundExceedsRemaining
	}
	txn.RefundedMinor += refund.AmountMinor
	cp := *refund
	s.refunds[cp.ID] = &cp
	return nil
}

func (s *inMemoryStore) SettleRefund(ctx context.Context, refundID uuid.UUID, gatewayRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	refund, ok := s.refunds[refundID]
	if !ok || refund.Status != domain.RefundStatusPending {
		return ports.ErrStateConflict
	}
	refund.Status = domain.RefundStatusSettled
	refund.GatewayRef = &gatewayRef
	refund.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *inMemoryStore) ReleaseRefund(ctx context.Context, refundID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	refund, ok := s.refunds[refundID]
	if !ok || refund.Status != domain.RefundStatusPending {
		return ports.ErrStateConflict
	}
	refund.Status = domain.RefundStatusFailed
	refund.UpdatedAt = time.Now().UTC()
	if txn, ok := s.byID[refund.TransactionID]; ok {
		txn.RefundedMinor -= refund.AmountMinor
	}
	return nil
}

func (s *inMemoryStore) ListRefunds(ctx context.Context, transactionID uuid.UUID) ([]domain.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Refund
	for _, refund := range s.refunds {
		if refund.TransactionID == transactionID {
			out = append(out, *refund)
		}
	}
	return out, nil
}

// --- In-Memory Audit Repo ---

type inMemoryAuditRepo struct {
	mu     sync.Mutex
	events map[uuid.UUID][]domain.AuditEvent
}

func newInMemoryAuditRepo() *inMemoryAuditRepo {
	return &inMemoryAuditRepo{events: make(map[uuid.UUID][]domain.AuditEvent)}
}

func (r *inMemoryAuditRepo) Append(ctx context.Context, event *domain.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event.TransactionID] = append(r.events[event.TransactionID], *event)
	return nil
}

func (r *inMemoryAuditRepo) LastHash(ctx context.Context, transactionID uuid.UUID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := r.events[transactionID]
	if len(chain) == 0 {
		return "", nil
	}
	return chain[len(chain)-1].Hash, nil
}

func (r *inMemoryAuditRepo) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := r.events[transactionID]
	out := make([]domain.AuditEvent, len(chain))
	copy(out, chain)
	return out, nil
}

// --- In-Memory Idempotency Cache ---

type inMemoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newInMemoryCache() *inMemoryCache {
	return &inMemoryCache{entries: make(map[string][]byte)}
}

func (c *inMemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key], nil
}

func (c *inMemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

// --- In-Memory Process Lock ---

type inMemoryLock struct {
	mu    sync.Mutex
	locks map[string]struct{}
}

func newInMemoryLock() *inMemoryLock {
	return &inMemoryLock{locks: make(map[string]struct{})}
}

func (l *inMemoryLock) Acquire(ctx context.Context, transactionID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.locks[transactionID]; held {
		return false, nil
	}
	l.locks[transactionID] = struct{}{}
	return true, nil
}

func (l *inMemoryLock) Release(ctx context.Context, transactionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, transactionID)
	return nil
}

// --- Stub Gateway ---

// stubGateway implements ports.GatewayAdapter with programmable outcomes and
// call counting.
type stubGateway struct {
	id string

	mu          sync.Mutex
	chargeCalls int
	refundCalls int

	// chargeFn receives the 1-based call number. Nil approves everything.
	chargeFn func(call int) (*ports.ChargeResult, error)
	// refundFn is invoked per refund. Nil approves everything.
	refundFn func() (*ports.RefundResult, error)
}

func (g *stubGateway) ID() string { return g.id }

func (g *stubGateway) Charge(ctx context.Context, req ports.ChargeRequest) (*ports.ChargeResult, error) {
	g.mu.Lock()
	g.chargeCalls++
	call := g.chargeCalls
	fn := g.chargeFn
	g.mu.Unlock()

	if fn != nil {
		return fn(call)
	}
	return &ports.ChargeResult{ExternalRef: g.id + "-ref", Status: ports.ChargeApproved}, nil
}

func (g *stubGateway) Refund(ctx context.Context, req ports.RefundRequest) (*ports.RefundResult, error) {
	g.mu.Lock()
	g.refundCalls++
	fn := g.refundFn
	g.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return &ports.RefundResult{RefundRef: g.id + "-rf", Status: ports.ChargeRefunded}, nil
}

func (g *stubGateway) GetStatus(ctx context.Context, externalRef string) (ports.ChargeStatus, error) {
	return ports.ChargeApproved, nil
}

func (g *stubGateway) charges() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.chargeCalls
}

// --- Stub Rate Source ---

type stubRateSource struct {
	rate decimal.Decimal
}

func (s *stubRateSource) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	return s.rate, nil
}
