package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/uzlex/consult-platform/pkg/logging"
)

type memStore struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*Payment
}

func newMemStore() *memStore {
	return &memStore{payments: make(map[uuid.UUID]*Payment)}
}

func (s *memStore) Create(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.payments {
		if existing.ConsultationID == p.ConsultationID && existing.Status.Active() {
			return ErrActivePaymentExists
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Status = StatusPending
	p.CreatedAt = time.Now()
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) LatestForConsultation(_ context.Context, consultationID uuid.UUID) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Payment
	for _, p := range s.payments {
		if p.ConsultationID != consultationID {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *memStore) cas(id uuid.UUID, from []Status, to Status, mutate func(*Payment)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return false
	}
	for _, f := range from {
		if p.Status == f {
			p.Status = to
			if mutate != nil {
				mutate(p)
			}
			return true
		}
	}
	return false
}

func (s *memStore) MarkProcessing(_ context.Context, id uuid.UUID, providerTxnID string) (bool, error) {
	return s.cas(id, []Status{StatusPending}, StatusProcessing, func(p *Payment) {
		p.ProviderTransactionID = providerTxnID
	}), nil
}

func (s *memStore) Complete(_ context.Context, id uuid.UUID, providerTxnID string) (bool, error) {
	now := time.Now()
	return s.cas(id, []Status{StatusPending, StatusProcessing}, StatusCompleted, func(p *Payment) {
		p.ProviderTransactionID = providerTxnID
		p.PaidAt = &now
	}), nil
}

func (s *memStore) Cancel(_ context.Context, id uuid.UUID) (bool, error) {
	return s.cas(id, []Status{StatusPending, StatusProcessing}, StatusCancelled, nil), nil
}

func (s *memStore) Fail(_ context.Context, id uuid.UUID) (bool, error) {
	return s.cas(id, []Status{StatusPending, StatusProcessing}, StatusFailed, nil), nil
}

func (s *memStore) ClaimRefund(_ context.Context, id uuid.UUID) (bool, error) {
	return s.cas(id, []Status{StatusCompleted}, StatusRefunding, nil), nil
}

func (s *memStore) ReleaseRefundClaim(_ context.Context, id uuid.UUID) error {
	s.cas(id, []Status{StatusRefunding}, StatusCompleted, nil)
	return nil
}

func (s *memStore) MarkRefunded(_ context.Context, id uuid.UUID, refundTxnID string) (bool, error) {
	now := time.Now()
	return s.cas(id, []Status{StatusRefunding}, StatusRefunded, func(p *Payment) {
		p.RefundTransactionID = refundTxnID
		p.RefundedAt = &now
	}), nil
}

type memProcessed struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemProcessed() *memProcessed {
	return &memProcessed{seen: make(map[string]bool)}
}

func (m *memProcessed) AlreadyProcessed(_ context.Context, provider, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[provider+":"+eventID], nil
}

func (m *memProcessed) MarkProcessed(_ context.Context, provider, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := provider + ":" + eventID
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

type memRecon struct {
	mu      sync.Mutex
	flagged []string
}

func (m *memRecon) Flag(_ context.Context, paymentID uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flagged = append(m.flagged, paymentID.String()+": "+reason)
	return nil
}

func (m *memRecon) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.flagged)
}

type stubConfirmer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *stubConfirmer) ConfirmPayment(_ context.Context, _ *Payment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *stubConfirmer) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type stubAdapter struct {
	name      Provider
	url       string
	urlErr    error
	refundID  string
	refundErr error
	refunds   int
}

func (a *stubAdapter) Name() Provider { return a.name }

func (a *stubAdapter) PaymentURL(_ context.Context, _ *Payment) (string, error) {
	return a.url, a.urlErr
}

func (a *stubAdapter) VerifyCallback(_ []byte, _ http.Header) (*Callback, error) {
	return nil, errors.New("not used")
}

func (a *stubAdapter) Refund(_ context.Context, _ *Payment) (string, error) {
	a.refunds++
	return a.refundID, a.refundErr
}

func newTestGateway(store *memStore, recon *memRecon, confirmer *stubConfirmer, adapter Adapter) *Gateway {
	cfg := GatewayConfig{
		MinAmountTiyin: 100_000,
		MaxAmountTiyin: 1_000_000_000,
		Currency:       "UZS",
		RefundWindow:   30 * 24 * time.Hour,
	}
	gw := NewGateway(store, newMemProcessed(), recon, cfg, nil, logging.Default(), adapter)
	if confirmer != nil {
		gw.WithConfirmer(confirmer)
	}
	return gw
}

func TestCreatePaymentValidatesAmount(t *testing.T) {
	gw := newTestGateway(newMemStore(), &memRecon{}, nil, &stubAdapter{name: ProviderClick, url: "https://pay"})

	_, _, err := gw.CreatePayment(context.Background(), uuid.New(), 1, 99_999, ProviderClick)
	if !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("expected ErrAmountOutOfRange, got %v", err)
	}
	_, _, err = gw.CreatePayment(context.Background(), uuid.New(), 1, 1_000_000_001, ProviderClick)
	if !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("expected ErrAmountOutOfRange, got %v", err)
	}
}

func TestCreatePaymentRejectsSecondActive(t *testing.T) {
	store := newMemStore()
	gw := newTestGateway(store, &memRecon{}, nil, &stubAdapter{name: ProviderClick, url: "https://pay"})
	consultationID := uuid.New()

	if _, _, err := gw.CreatePayment(context.Background(), consultationID, 1, 5_000_000, ProviderClick); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, _, err := gw.CreatePayment(context.Background(), consultationID, 1, 5_000_000, ProviderClick)
	if !errors.Is(err, ErrActivePaymentExists) {
		t.Fatalf("expected ErrActivePaymentExists, got %v", err)
	}
}

func TestCreatePaymentFailsOnURLError(t *testing.T) {
	store := newMemStore()
	adapter := &stubAdapter{name: ProviderUzum, urlErr: errors.New("provider down")}
	gw := newTestGateway(store, &memRecon{}, nil, adapter)
	consultationID := uuid.New()

	if _, _, err := gw.CreatePayment(context.Background(), consultationID, 1, 5_000_000, ProviderUzum); err == nil {
		t.Fatal("expected error")
	}

	// The failed attempt must not block a retry.
	adapter.urlErr = nil
	adapter.url = "https://pay"
	if _, _, err := gw.CreatePayment(context.Background(), consultationID, 1, 5_000_000, ProviderUzum); err != nil {
		t.Fatalf("retry after url failure: %v", err)
	}
}

func TestProcessCallbackCompletesOnce(t *testing.T) {
	store := newMemStore()
	confirmer := &stubConfirmer{}
	gw := newTestGateway(store, &memRecon{}, confirmer, &stubAdapter{name: ProviderClick, url: "https://pay"})

	p, _, err := gw.CreatePayment(context.Background(), uuid.New(), 1, 5_000_000, ProviderClick)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cb := &Callback{
		Provider:              ProviderClick,
		EventID:               "evt-1",
		PaymentID:             p.ID,
		ProviderTransactionID: "ct-9",
		AmountTiyin:           5_000_000,
		Status:                CallbackCompleted,
	}
	if err := gw.ProcessCallback(context.Background(), cb); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	if confirmer.callCount() != 1 {
		t.Fatalf("confirm calls = %d, want 1", confirmer.callCount())
	}

	// Redelivery of the same event is a no-op.
	if err := gw.ProcessCallback(context.Background(), cb); err != nil {
		t.Fatalf("duplicate callback: %v", err)
	}
	if confirmer.callCount() != 1 {
		t.Fatalf("confirm calls after duplicate = %d, want 1", confirmer.callCount())
	}

	got, err := store.GetByID(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCompleted || got.ProviderTransactionID != "ct-9" {
		t.Fatalf("payment = %+v", got)
	}
}

func TestProcessCallbackRetriesConfirmFailure(t *testing.T) {
	store := newMemStore()
	confirmer := &stubConfirmer{err: errors.New("db down")}
	gw := newTestGateway(store, &memRecon{}, confirmer, &stubAdapter{name: ProviderClick, url: "https://pay"})

	p, _, err := gw.CreatePayment(context.Background(), uuid.New(), 1, 5_000_000, ProviderClick)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cb := &Callback{
		Provider:              ProviderClick,
		EventID:               "evt-1",
		PaymentID:             p.ID,
		ProviderTransactionID: "ct-9",
		AmountTiyin:           5_000_000,
		Status:                CallbackCompleted,
	}
	if err := gw.ProcessCallback(context.Background(), cb); err == nil {
		t.Fatal("expected confirm failure to propagate")
	}

	// The event was not marked processed, so the provider's retry runs the
	// confirmer again even though the payment CAS already happened.
	confirmer.err = nil
	if err := gw.ProcessCallback(context.Background(), cb); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if confirmer.callCount() != 2 {
		t.Fatalf("confirm calls = %d, want 2", confirmer.callCount())
	}
}

// completeBarrier releases Complete only once both concurrent callers have
// reached it, so each loads its payment snapshot before either CAS runs.
type completeBarrier struct {
	*memStore
	ready *sync.WaitGroup
}

func (s *completeBarrier) Complete(ctx context.Context, id uuid.UUID, providerTxnID string) (bool, error) {
	s.ready.Done()
	s.ready.Wait()
	return s.memStore.Complete(ctx, id, providerTxnID)
}

func TestProcessCallbackParallelDuplicatesAreNoOps(t *testing.T) {
	store := newMemStore()
	recon := &memRecon{}
	confirmer := &stubConfirmer{}

	var ready sync.WaitGroup
	ready.Add(2)
	cfg := GatewayConfig{
		MinAmountTiyin: 100_000,
		MaxAmountTiyin: 1_000_000_000,
		Currency:       "UZS",
		RefundWindow:   30 * 24 * time.Hour,
	}
	gw := NewGateway(&completeBarrier{memStore: store, ready: &ready}, newMemProcessed(), recon, cfg, nil, logging.Default(), &stubAdapter{name: ProviderUzum, url: "https://pay"}).
		WithConfirmer(confirmer)

	p, _, err := gw.CreatePayment(context.Background(), uuid.New(), 1, 5_000_000, ProviderUzum)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cb := &Callback{
		Provider:              ProviderUzum,
		EventID:               "op-1",
		PaymentID:             p.ID,
		ProviderTransactionID: "op-1",
		AmountTiyin:           5_000_000,
		Status:                CallbackCompleted,
	}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- gw.ProcessCallback(context.Background(), cb) }()
	}
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent delivery: %v", err)
		}
	}

	// Both deliveries carried the same completion, so the one that lost the
	// status race must not treat the payment as conflicting.
	if recon.count() != 0 {
		t.Fatalf("reconciliation entries = %d, want 0", recon.count())
	}
	got, err := store.GetByID(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCompleted || got.ProviderTransactionID != "op-1" {
		t.Fatalf("payment = %+v", got)
	}
	if confirmer.callCount() < 1 {
		t.Fatal("confirmer never ran")
	}
}

func TestProcessCallbackConfirmConflictGoesToReconciliation(t *testing.T) {
	store := newMemStore()
	recon := &memRecon{}
	confirmer := &stubConfirmer{err: fmt.Errorf("%w: consultation is cancelled", ErrConfirmConflict)}
	gw := newTestGateway(store, recon, confirmer, &stubAdapter{name: ProviderClick, url: "https://pay"})

	p, _, err := gw.CreatePayment(context.Background(), uuid.New(), 1, 5_000_000, ProviderClick)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cb := &Callback{
		Provider:              ProviderClick,
		EventID:               "evt-1",
		PaymentID:             p.ID,
		ProviderTransactionID: "ct-9",
		AmountTiyin:           5_000_000,
		Status:                CallbackCompleted,
	}

	// The money arrived but the consultation can no longer take it. The
	// callback must be acknowledged so the provider stops redelivering.
	if err := gw.ProcessCallback(context.Background(), cb); err != nil {
		t.Fatalf("conflict delivery: %v", err)
	}
	if recon.count() != 1 {
		t.Fatalf("reconciliation entries = %d, want 1", recon.count())
	}

	// Redelivery is deduplicated instead of re-running the confirmer.
	if err := gw.ProcessCallback(context.Background(), cb); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if confirmer.callCount() != 1 {
		t.Fatalf("confirm calls = %d, want 1", confirmer.callCount())
	}
	if recon.count() != 1 {
		t.Fatalf("reconciliation entries after redelivery = %d, want 1", recon.count())
	}

	got, _ := store.GetByID(context.Background(), p.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s, the money side still completed", got.Status)
	}
}

func TestProcessCallbackProcessingThenComplete(t *testing.T) {
	store := newMemStore()
	gw := newTestGateway(store, &memRecon{}, &stubConfirmer{}, &stubAdapter{name: ProviderPayme, url: "https://pay"})

	p, _, err := gw.CreatePayment(context.Background(), uuid.New(), 1, 5_000_000, ProviderPayme)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	create := &Callback{
		Provider:              ProviderPayme,
		EventID:               "txn-1:CreateTransaction",
		PaymentID:             p.ID,
		ProviderTransactionID: "txn-1",
		AmountTiyin:           5_000_000,
		Status:                CallbackProcessing,
	}
	if err := gw.ProcessCallback(context.Background(), create); err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	got, _ := store.GetByID(context.Background(), p.ID)
	if got.Status != StatusProcessing || got.ProviderTransactionID != "txn-1" {
		t.Fatalf("payment = %+v", got)
	}

	// Redelivered create is a no-op.
	if err := gw.ProcessCallback(context.Background(), create); err != nil {
		t.Fatalf("redelivered create: %v", err)
	}

	perform := &Callback{
		Provider:              ProviderPayme,
		EventID:               "txn-1:PerformTransaction",
		PaymentID:             p.ID,
		ProviderTransactionID: "txn-1",
		AmountTiyin:           5_000_000,
		Status:                CallbackCompleted,
	}
	if err := gw.ProcessCallback(context.Background(), perform); err != nil {
		t.Fatalf("perform: %v", err)
	}
	got, _ = store.GetByID(context.Background(), p.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}

	// A create redelivered after the perform is acknowledged too.
	if err := gw.ProcessCallback(context.Background(), create); err != nil {
		t.Fatalf("create after perform: %v", err)
	}
}

func TestProcessCallbackProcessingOnClosedPayment(t *testing.T) {
	store := newMemStore()
	gw := newTestGateway(store, &memRecon{}, &stubConfirmer{}, &stubAdapter{name: ProviderPayme, url: "https://pay"})

	p, _, err := gw.CreatePayment(context.Background(), uuid.New(), 1, 5_000_000, ProviderPayme)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Cancel(context.Background(), p.ID); err != nil {
		t.Fatal(err)
	}

	cb := &Callback{
		Provider:              ProviderPayme,
		EventID:               "txn-1:CreateTransaction",
		PaymentID:             p.ID,
		ProviderTransactionID: "txn-1",
		AmountTiyin:           5_000_000,
		Status:                CallbackProcessing,
	}
	if err := gw.ProcessCallback(context.Background(), cb); !errors.Is(err, ErrAlreadyFinal) {
		t.Fatalf("expected ErrAlreadyFinal, got %v", err)
	}
}

func TestProcessCallbackAmountMismatch(t *testing.T) {
	store := newMemStore()
	gw := newTestGateway(store, &memRecon{}, &stubConfirmer{}, &stubAdapter{name: ProviderPayme, url: "https://pay"})

	p, _, err := gw.CreatePayment(context.Background(), uuid.New(), 1, 5_000_000, ProviderPayme)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cb := &Callback{
		Provider:    ProviderPayme,
		EventID:     "evt-1",
		PaymentID:   p.ID,
		AmountTiyin: 4_000_000,
		Status:      CallbackCompleted,
	}
	if err := gw.ProcessCallback(context.Background(), cb); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}

	got, _ := store.GetByID(context.Background(), p.ID)
	if got.Status != StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
}

func TestProcessCallbackCancelAfterCompleteFlagsReconciliation(t *testing.T) {
	store := newMemStore()
	recon := &memRecon{}
	gw := newTestGateway(store, recon, &stubConfirmer{}, &stubAdapter{name: ProviderUzum, url: "https://pay"})

	p, _, err := gw.CreatePayment(context.Background(), uuid.New(), 1, 5_000_000, ProviderUzum)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	complete := &Callback{
		Provider: ProviderUzum, EventID: "op-1", PaymentID: p.ID,
		ProviderTransactionID: "op-1", AmountTiyin: 5_000_000, Status: CallbackCompleted,
	}
	if err := gw.ProcessCallback(context.Background(), complete); err != nil {
		t.Fatalf("complete: %v", err)
	}

	cancel := &Callback{
		Provider: ProviderUzum, EventID: "op-2", PaymentID: p.ID,
		ProviderTransactionID: "op-1", AmountTiyin: 5_000_000, Status: CallbackCancelled,
	}
	if err := gw.ProcessCallback(context.Background(), cancel); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if recon.count() != 1 {
		t.Fatalf("reconciliation entries = %d, want 1", recon.count())
	}

	got, _ := store.GetByID(context.Background(), p.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s, completed payment must not be silently cancelled", got.Status)
	}
}

func completedPayment(t *testing.T, store *memStore, gw *Gateway, provider Provider) *Payment {
	t.Helper()
	p, _, err := gw.CreatePayment(context.Background(), uuid.New(), 1, 5_000_000, provider)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cb := &Callback{
		Provider: provider, EventID: "evt-" + p.ID.String(), PaymentID: p.ID,
		ProviderTransactionID: "txn-1", AmountTiyin: 5_000_000, Status: CallbackCompleted,
	}
	if err := gw.ProcessCallback(context.Background(), cb); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err := store.GetByID(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestRefundExactlyOnce(t *testing.T) {
	store := newMemStore()
	adapter := &stubAdapter{name: ProviderClick, url: "https://pay", refundID: "rev-1"}
	gw := newTestGateway(store, &memRecon{}, &stubConfirmer{}, adapter)

	p := completedPayment(t, store, gw, ProviderClick)

	refunded, err := gw.Refund(context.Background(), p.ConsultationID)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.RefundTransactionID != "rev-1" {
		t.Fatalf("refund txn = %s", refunded.RefundTransactionID)
	}

	if _, err := gw.Refund(context.Background(), p.ConsultationID); !errors.Is(err, ErrAlreadyRefunded) {
		t.Fatalf("second refund: expected ErrAlreadyRefunded, got %v", err)
	}
	if adapter.refunds != 1 {
		t.Fatalf("provider refund calls = %d, want 1", adapter.refunds)
	}
}

func TestRefundTransportFailureReleasesClaim(t *testing.T) {
	store := newMemStore()
	recon := &memRecon{}
	adapter := &stubAdapter{name: ProviderClick, url: "https://pay", refundErr: errors.New("timeout")}
	gw := newTestGateway(store, recon, &stubConfirmer{}, adapter)

	p := completedPayment(t, store, gw, ProviderClick)

	if _, err := gw.Refund(context.Background(), p.ConsultationID); err == nil {
		t.Fatal("expected refund error")
	}
	if recon.count() != 1 {
		t.Fatalf("reconciliation entries = %d, want 1", recon.count())
	}

	// Claim released: a later retry can succeed.
	adapter.refundErr = nil
	adapter.refundID = "rev-2"
	if _, err := gw.Refund(context.Background(), p.ConsultationID); err != nil {
		t.Fatalf("retry refund: %v", err)
	}
}

func TestRefundProviderRejectionDoesNotFlag(t *testing.T) {
	store := newMemStore()
	recon := &memRecon{}
	adapter := &stubAdapter{
		name: ProviderPayme, url: "https://pay",
		refundErr: &ProviderError{Provider: ProviderPayme, Code: "-31007", Message: "cannot cancel"},
	}
	gw := newTestGateway(store, recon, &stubConfirmer{}, adapter)

	p := completedPayment(t, store, gw, ProviderPayme)

	_, err := gw.Refund(context.Background(), p.ConsultationID)
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	// Explicit rejection is a definite outcome, nothing to reconcile.
	if recon.count() != 0 {
		t.Fatalf("reconciliation entries = %d, want 0", recon.count())
	}
}

func TestRefundOutsideWindow(t *testing.T) {
	store := newMemStore()
	gw := newTestGateway(store, &memRecon{}, &stubConfirmer{}, &stubAdapter{name: ProviderClick, url: "https://pay", refundID: "rev-1"})

	p := completedPayment(t, store, gw, ProviderClick)

	gw.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	if _, err := gw.Refund(context.Background(), p.ConsultationID); !errors.Is(err, ErrRefundIneligible) {
		t.Fatalf("expected ErrRefundIneligible, got %v", err)
	}
}
