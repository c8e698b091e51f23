package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kistrader/config"
	"kistrader/internal/domain"
	"kistrader/internal/ports"
)

// Mock implementations

type mockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

type submittedOrder struct {
	kind  string // "limit_buy", "limit_sell", "market_sell"
	code  string
	qty   int64
	price int64
}

type mockBroker struct {
	cash        float64
	cashErr     error
	holdings    map[string]ports.Holding
	holdingsErr error
	quotes      map[string]float64
	quoteErr    error
	bids        map[string]float64
	bidErr      error

	buyErr  error
	sellErr error
	ackID   string

	orders []submittedOrder
}

func (m *mockBroker) GetQuote(ctx context.Context, code string) (float64, error) {
	if m.quoteErr != nil {
		return 0, m.quoteErr
	}
	return m.quotes[code], nil
}

func (m *mockBroker) GetBestBid(ctx context.Context, code string) (float64, error) {
	if m.bidErr != nil {
		return 0, m.bidErr
	}
	return m.bids[code], nil
}

func (m *mockBroker) GetHoldings(ctx context.Context) (map[string]ports.Holding, error) {
	if m.holdingsErr != nil {
		return nil, m.holdingsErr
	}
	if m.holdings == nil {
		return map[string]ports.Holding{}, nil
	}
	return m.holdings, nil
}

func (m *mockBroker) GetCashBalance(ctx context.Context) (float64, error) {
	return m.cash, m.cashErr
}

func (m *mockBroker) SubmitLimitBuy(ctx context.Context, code string, qty int64, price int64) (*ports.OrderAck, error) {
	if m.buyErr != nil {
		return nil, m.buyErr
	}
	m.orders = append(m.orders, submittedOrder{kind: "limit_buy", code: code, qty: qty, price: price})
	return &ports.OrderAck{OrderID: m.ackID}, nil
}

func (m *mockBroker) SubmitLimitSell(ctx context.Context, code string, qty int64, price int64) (*ports.OrderAck, error) {
	if m.sellErr != nil {
		return nil, m.sellErr
	}
	m.orders = append(m.orders, submittedOrder{kind: "limit_sell", code: code, qty: qty, price: price})
	return &ports.OrderAck{OrderID: m.ackID}, nil
}

func (m *mockBroker) SubmitMarketSell(ctx context.Context, code string, qty int64) (*ports.OrderAck, error) {
	if m.sellErr != nil {
		return nil, m.sellErr
	}
	m.orders = append(m.orders, submittedOrder{kind: "market_sell", code: code, qty: qty})
	return &ports.OrderAck{OrderID: m.ackID}, nil
}

func (m *mockBroker) ordersOfKind(kind string) []submittedOrder {
	var out []submittedOrder
	for _, o := range m.orders {
		if o.kind == kind {
			out = append(out, o)
		}
	}
	return out
}

// cancellableBroker adds the optional cancellation capability.
type cancellableBroker struct {
	*mockBroker
	cancelErr error
	cancelled []string
}

func (m *cancellableBroker) CancelOrder(ctx context.Context, orderID string) error {
	m.cancelled = append(m.cancelled, orderID)
	return m.cancelErr
}

// mockStore is an in-memory PositionStore with the same transition rules as
// the SQLite adapter.
type mockStore struct {
	positions map[int64]*domain.Position
	nextID    int64
	insertErr error
	findErr   error
}

func newMockStore() *mockStore {
	return &mockStore{positions: make(map[int64]*domain.Position), nextID: 1}
}

func (m *mockStore) Insert(ctx context.Context, pos *domain.Position) (int64, error) {
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	id := m.nextID
	m.nextID++
	cp := *pos
	cp.ID = id
	m.positions[id] = &cp
	return id, nil
}

func (m *mockStore) FindByStatus(ctx context.Context, statuses ...domain.PositionStatus) ([]*domain.Position, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []*domain.Position
	for id := int64(1); id < m.nextID; id++ {
		pos, found := m.positions[id]
		if !found {
			continue
		}
		for _, s := range statuses {
			if pos.Status == s {
				cp := *pos
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (m *mockStore) CodesByStatus(ctx context.Context, statuses ...domain.PositionStatus) ([]string, error) {
	positions, err := m.FindByStatus(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var codes []string
	for _, pos := range positions {
		if _, dup := seen[pos.Code]; !dup {
			seen[pos.Code] = struct{}{}
			codes = append(codes, pos.Code)
		}
	}
	return codes, nil
}

func (m *mockStore) UpdateStatus(ctx context.Context, id int64, status domain.PositionStatus) error {
	pos, found := m.positions[id]
	if !found {
		return ports.ErrNotFound
	}
	pos.Status = status
	return nil
}

func (m *mockStore) ConfirmFill(ctx context.Context, id int64, qty int64, entry float64) error {
	pos, found := m.positions[id]
	if !found || pos.Status != domain.StatusPending {
		return ports.ErrNotFound
	}
	pos.Status = domain.StatusOpen
	pos.Qty = qty
	pos.Entry = entry
	return nil
}

func (m *mockStore) MarkCancelled(ctx context.Context, id int64, at time.Time, reason domain.ExitReason, note string) error {
	pos, found := m.positions[id]
	if !found || pos.Status != domain.StatusPending {
		return ports.ErrNotFound
	}
	pos.Status = domain.StatusCancelled
	pos.CloseTime = at
	pos.ExitReason = reason
	pos.Note = pos.Note + " | " + note
	return nil
}

func (m *mockStore) ClosePosition(ctx context.Context, id int64, exitPrice float64, exitTime time.Time, reason domain.ExitReason) error {
	pos, found := m.positions[id]
	if !found || pos.IsTerminal() {
		return ports.ErrNotFound
	}
	pos.Status = domain.StatusClosed
	pos.ExitPrice = exitPrice
	pos.CloseTime = exitTime
	pos.ExitReason = reason
	pos.GrossPnL = (exitPrice - pos.Entry) * float64(pos.Qty)
	return nil
}

type mockSink struct {
	published []domain.Snapshot
}

func (m *mockSink) Publish(snap domain.Snapshot) {
	m.published = append(m.published, snap)
}

// Test helpers

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	return &config.Config{
		Location:           loc,
		PreloadStart:       config.TimeOfDay{Hour: 8, Minute: 30},
		AdmissionTime:      config.TimeOfDay{Hour: 9},
		ForceCloseStart:    config.TimeOfDay{Hour: 15, Minute: 15},
		HardDeadline:       config.TimeOfDay{Hour: 15, Minute: 29, Second: 30},
		MarketDeadline:     config.TimeOfDay{Hour: 15, Minute: 29, Second: 50},
		MarketClose:        config.TimeOfDay{Hour: 15, Minute: 30},
		ExitTime:           config.TimeOfDay{Hour: 16},
		CheckInterval:      time.Minute,
		ForceCloseInterval: 15 * time.Second,
		PollInterval:       5 * time.Second,
		LoopBackoff:        5 * time.Second,
	}
}

func newTestEngine(t *testing.T, cfg *config.Config, broker ports.Broker, store ports.PositionStore) *Engine {
	t.Helper()
	eng, err := NewEngine(cfg, &mockLogger{}, broker, store, stubSignals{}, nil, nil)
	require.NoError(t, err)
	return eng
}

type stubSignals struct {
	signals []domain.Signal
	err     error
}

func (s stubSignals) Load(ctx context.Context) ([]domain.Signal, error) {
	return s.signals, s.err
}

func fptr(f float64) *float64 { return &f }

func seoulTime(t *testing.T, hour, min, sec int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	return time.Date(2026, 8, 31, hour, min, sec, 0, loc)
}

// Admission

func TestAdmitSignals_AlignsAndPersists(t *testing.T) {
	broker := &mockBroker{cash: 10_000_000, ackID: "0000117057"}
	store := newMockStore()
	eng := newTestEngine(t, testConfig(t), broker, store)

	sig := domain.Signal{
		Code: "005930", Name: "Samsung Electronics", Side: domain.Buy,
		Qty: 10, Entry: 100040, TP: fptr(110000), SL: fptr(95000), Horizon: "1",
	}
	require.NoError(t, eng.AdmitSignals(context.Background(), []domain.Signal{sig}))

	buys := broker.ordersOfKind("limit_buy")
	require.Len(t, buys, 1)
	assert.Equal(t, int64(100000), buys[0].price, "entry aligned down to the 100-won grid")
	assert.Equal(t, int64(10), buys[0].qty)

	pending, err := store.FindByStatus(context.Background(), domain.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, float64(100000), pending[0].Entry, "stored entry is the aligned price")
	assert.Contains(t, pending[0].Note, "order_id=0000117057")
	assert.False(t, pending[0].ValidUntil.IsZero(), "horizon label derives a deadline")
}

func TestAdmitSignals_SameCodeAdmittedOnce(t *testing.T) {
	broker := &mockBroker{cash: 10_000_000}
	store := newMockStore()
	eng := newTestEngine(t, testConfig(t), broker, store)

	signals := []domain.Signal{
		{Code: "005930", Side: domain.Buy, Qty: 5, Entry: 70000},
		{Code: "005930", Side: domain.Buy, Qty: 3, Entry: 69000},
	}
	require.NoError(t, eng.AdmitSignals(context.Background(), signals))

	assert.Len(t, broker.ordersOfKind("limit_buy"), 1, "duplicate code in one batch submits once")
	pending, _ := store.FindByStatus(context.Background(), domain.StatusPending)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(5), pending[0].Qty)
}

func TestAdmitSignals_BudgetDecrementsAcrossBatch(t *testing.T) {
	// Cash covers the first candidate only once its cost is reserved.
	broker := &mockBroker{cash: 800_000}
	store := newMockStore()
	eng := newTestEngine(t, testConfig(t), broker, store)

	signals := []domain.Signal{
		{Code: "005930", Side: domain.Buy, Qty: 10, Entry: 70000}, // 700k
		{Code: "000660", Side: domain.Buy, Qty: 2, Entry: 120000}, // 240k, over the remaining 100k
		{Code: "035420", Side: domain.Buy, Qty: 1, Entry: 90000},  // 90k, fits
	}
	require.NoError(t, eng.AdmitSignals(context.Background(), signals))

	buys := broker.ordersOfKind("limit_buy")
	require.Len(t, buys, 2)
	assert.Equal(t, "005930", buys[0].code)
	assert.Equal(t, "035420", buys[1].code)
}

func TestAdmitSignals_SkipsLiveAndHeldCodes(t *testing.T) {
	broker := &mockBroker{
		cash:     10_000_000,
		holdings: map[string]ports.Holding{"000660": {Code: "000660", Qty: 3}},
	}
	store := newMockStore()
	_, err := store.Insert(context.Background(), &domain.Position{Code: "005930", Status: domain.StatusPending, Qty: 1, Entry: 1000})
	require.NoError(t, err)
	eng := newTestEngine(t, testConfig(t), broker, store)

	signals := []domain.Signal{
		{Code: "005930", Side: domain.Buy, Qty: 5, Entry: 70000},
		{Code: "000660", Side: domain.Buy, Qty: 2, Entry: 120000},
		{Code: "035420", Side: domain.Buy, Qty: 1, Entry: 90000},
	}
	require.NoError(t, eng.AdmitSignals(context.Background(), signals))

	buys := broker.ordersOfKind("limit_buy")
	require.Len(t, buys, 1)
	assert.Equal(t, "035420", buys[0].code)
}

func TestAdmitSignals_UntrackedOrderStillReservesBudgetAndCode(t *testing.T) {
	// A live order whose record failed to persist must still consume its
	// budget and block its code for the rest of the batch.
	broker := &mockBroker{cash: 1_000_000}
	store := newMockStore()
	store.insertErr = errors.New("disk full")
	eng := newTestEngine(t, testConfig(t), broker, store)

	signals := []domain.Signal{
		{Code: "005930", Side: domain.Buy, Qty: 10, Entry: 70000}, // 700k
		{Code: "005930", Side: domain.Buy, Qty: 10, Entry: 70000},
		{Code: "000660", Side: domain.Buy, Qty: 10, Entry: 70000}, // over the remaining 300k
	}
	require.NoError(t, eng.AdmitSignals(context.Background(), signals))

	buys := broker.ordersOfKind("limit_buy")
	require.Len(t, buys, 1, "the batch never overcommits cash or a code")
	assert.Equal(t, "005930", buys[0].code)
	pending, _ := store.FindByStatus(context.Background(), domain.StatusPending)
	assert.Empty(t, pending)
}

func TestAdmitSignals_RejectedOrderLeavesNoRecord(t *testing.T) {
	broker := &mockBroker{cash: 10_000_000, buyErr: ports.ErrOrderRejected}
	store := newMockStore()
	eng := newTestEngine(t, testConfig(t), broker, store)

	sig := domain.Signal{Code: "005930", Side: domain.Buy, Qty: 5, Entry: 70000}
	require.NoError(t, eng.AdmitSignals(context.Background(), []domain.Signal{sig}))

	pending, _ := store.FindByStatus(context.Background(), domain.StatusPending)
	assert.Empty(t, pending, "a rejected entry is skipped, not retried or recorded")
}

// Reconciliation

func TestConfirmPendingFills_OverwritesWithBrokerValues(t *testing.T) {
	store := newMockStore()
	id, _ := store.Insert(context.Background(), &domain.Position{
		Code: "005930", Status: domain.StatusPending, Qty: 10, Entry: 70000,
	})
	broker := &mockBroker{
		holdings: map[string]ports.Holding{"005930": {Code: "005930", Qty: 8, AvgPrice: 70100}},
	}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.ConfirmPendingFills(context.Background()))

	pos := store.positions[id]
	assert.Equal(t, domain.StatusOpen, pos.Status)
	assert.Equal(t, int64(8), pos.Qty, "broker-reported fill quantity wins")
	assert.Equal(t, float64(70100), pos.Entry, "broker-reported average price wins")
}

func TestConfirmPendingFills_FallsBackOnUnusableBrokerValues(t *testing.T) {
	store := newMockStore()
	id, _ := store.Insert(context.Background(), &domain.Position{
		Code: "005930", Status: domain.StatusPending, Qty: 10, Entry: 70000,
	})
	broker := &mockBroker{
		holdings: map[string]ports.Holding{"005930": {Code: "005930", Qty: 10, AvgPrice: 0}},
	}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.ConfirmPendingFills(context.Background()))

	pos := store.positions[id]
	assert.Equal(t, domain.StatusOpen, pos.Status)
	assert.Equal(t, float64(70000), pos.Entry, "requested entry survives a zero broker price")
}

func TestConfirmPendingFills_UnfilledStaysPending(t *testing.T) {
	store := newMockStore()
	id, _ := store.Insert(context.Background(), &domain.Position{
		Code: "005930", Status: domain.StatusPending, Qty: 10, Entry: 70000,
	})
	eng := newTestEngine(t, testConfig(t), &mockBroker{}, store)

	require.NoError(t, eng.ConfirmPendingFills(context.Background()))
	assert.Equal(t, domain.StatusPending, store.positions[id].Status)
}

func TestExpireStalePending_CancelsAtBrokerAndLocally(t *testing.T) {
	now := seoulTime(t, 10, 0, 0)
	store := newMockStore()
	id, _ := store.Insert(context.Background(), &domain.Position{
		Code: "005930", Status: domain.StatusPending, Qty: 10, Entry: 70000,
		ValidUntil: now.Add(-time.Minute),
		Note:       "from daily signal file | order_id=0000117057",
	})
	broker := &cancellableBroker{mockBroker: &mockBroker{}}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.ExpireStalePending(context.Background(), now, true))

	assert.Equal(t, []string{"0000117057"}, broker.cancelled)
	pos := store.positions[id]
	assert.Equal(t, domain.StatusCancelled, pos.Status)
	assert.Equal(t, domain.ReasonCancelledExpired, pos.ExitReason)
}

func TestExpireStalePending_BrokerCancelFailureStillCancelsLocally(t *testing.T) {
	now := seoulTime(t, 10, 0, 0)
	store := newMockStore()
	id, _ := store.Insert(context.Background(), &domain.Position{
		Code: "005930", Status: domain.StatusPending, Qty: 10, Entry: 70000,
		ValidUntil: now.Add(-time.Minute),
		Note:       "order_id=X1",
	})
	broker := &cancellableBroker{mockBroker: &mockBroker{}, cancelErr: errors.New("boom")}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.ExpireStalePending(context.Background(), now, true))
	assert.Equal(t, domain.StatusCancelled, store.positions[id].Status)
}

func TestExpireStalePending_NoCancellerStillCancels(t *testing.T) {
	now := seoulTime(t, 10, 0, 0)
	store := newMockStore()
	id, _ := store.Insert(context.Background(), &domain.Position{
		Code: "005930", Status: domain.StatusPending, Qty: 10, Entry: 70000,
		ValidUntil: now.Add(-time.Minute),
	})
	eng := newTestEngine(t, testConfig(t), &mockBroker{}, store)

	require.NoError(t, eng.ExpireStalePending(context.Background(), now, true))
	assert.Equal(t, domain.StatusCancelled, store.positions[id].Status)
}

func TestExpireStalePending_CancelDisabledSkipsBroker(t *testing.T) {
	now := seoulTime(t, 15, 35, 0)
	store := newMockStore()
	id, _ := store.Insert(context.Background(), &domain.Position{
		Code: "005930", Status: domain.StatusPending, Qty: 10, Entry: 70000,
		ValidUntil: now.Add(-time.Minute),
		Note:       "order_id=X1",
	})
	broker := &cancellableBroker{mockBroker: &mockBroker{}}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.ExpireStalePending(context.Background(), now, false))

	assert.Empty(t, broker.cancelled, "observe-only pass sends nothing to the broker")
	assert.Equal(t, domain.StatusCancelled, store.positions[id].Status)
}

func TestExpireStalePending_FreshPendingUntouched(t *testing.T) {
	now := seoulTime(t, 10, 0, 0)
	store := newMockStore()
	id, _ := store.Insert(context.Background(), &domain.Position{
		Code: "005930", Status: domain.StatusPending, Qty: 10, Entry: 70000,
		ValidUntil: now.Add(time.Hour),
	})
	eng := newTestEngine(t, testConfig(t), &mockBroker{}, store)

	require.NoError(t, eng.ExpireStalePending(context.Background(), now, true))
	assert.Equal(t, domain.StatusPending, store.positions[id].Status)
}

// Exit monitoring

func openPosition(store *mockStore, code string, qty int64, entry float64, tp, sl *float64, validUntil time.Time) int64 {
	id, _ := store.Insert(context.Background(), &domain.Position{
		Code: code, Side: domain.Buy, Status: domain.StatusOpen,
		Qty: qty, Entry: entry, TP: tp, SL: sl, ValidUntil: validUntil,
	})
	return id
}

func TestCheckOpenPositions_TakeProfitOutranksStopLoss(t *testing.T) {
	now := seoulTime(t, 11, 0, 0)
	store := newMockStore()
	// Inverted targets make 53050 satisfy both rules at once.
	id := openPosition(store, "005930", 10, 53000, fptr(53000), fptr(53100), time.Time{})
	broker := &mockBroker{
		quotes:   map[string]float64{"005930": 53050},
		holdings: map[string]ports.Holding{"005930": {Code: "005930", Qty: 10}},
	}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.CheckOpenPositions(context.Background(), now, true))

	pos := store.positions[id]
	assert.Equal(t, domain.StatusClosed, pos.Status)
	assert.Equal(t, domain.ReasonTakeProfit, pos.ExitReason)
	assert.Len(t, broker.ordersOfKind("market_sell"), 1)
}

func TestCheckOpenPositions_StopLossCloses(t *testing.T) {
	now := seoulTime(t, 11, 0, 0)
	store := newMockStore()
	id := openPosition(store, "005930", 10, 70000, fptr(77000), fptr(66000), time.Time{})
	broker := &mockBroker{
		quotes:   map[string]float64{"005930": 65900},
		holdings: map[string]ports.Holding{"005930": {Code: "005930", Qty: 10}},
	}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.CheckOpenPositions(context.Background(), now, true))

	pos := store.positions[id]
	assert.Equal(t, domain.StatusClosed, pos.Status)
	assert.Equal(t, domain.ReasonStopLoss, pos.ExitReason)
	assert.Equal(t, float64(65900), pos.ExitPrice)
}

func TestCheckOpenPositions_ObserveOnlySuppressesOrders(t *testing.T) {
	now := seoulTime(t, 15, 35, 0)
	store := newMockStore()
	id := openPosition(store, "005930", 10, 70000, fptr(69000), nil, time.Time{})
	broker := &mockBroker{quotes: map[string]float64{"005930": 69500}}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.CheckOpenPositions(context.Background(), now, false))

	assert.Empty(t, broker.orders, "observe-only pass never submits")
	assert.Equal(t, domain.StatusOpen, store.positions[id].Status)
}

func TestCheckOpenPositions_ObserveOnlyStillExpiresHorizon(t *testing.T) {
	now := seoulTime(t, 15, 35, 0)
	store := newMockStore()
	id := openPosition(store, "005930", 10, 70000, fptr(77000), fptr(66000), now.Add(-time.Minute))
	broker := &mockBroker{quotes: map[string]float64{"005930": 70500}}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.CheckOpenPositions(context.Background(), now, false))

	assert.Equal(t, domain.StatusExpired, store.positions[id].Status)
	assert.Empty(t, broker.orders)
}

func TestCheckOpenPositions_TriggerBeatsExpiry(t *testing.T) {
	now := seoulTime(t, 11, 0, 0)
	store := newMockStore()
	// Horizon passed and TP hit on the same pass; the exit wins.
	id := openPosition(store, "005930", 10, 70000, fptr(71000), nil, now.Add(-time.Minute))
	broker := &mockBroker{
		quotes:   map[string]float64{"005930": 71500},
		holdings: map[string]ports.Holding{"005930": {Code: "005930", Qty: 10}},
	}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.CheckOpenPositions(context.Background(), now, true))

	pos := store.positions[id]
	assert.Equal(t, domain.StatusClosed, pos.Status)
	assert.Equal(t, domain.ReasonTakeProfit, pos.ExitReason)
}

func TestCheckOpenPositions_NotHeldSkipsExit(t *testing.T) {
	now := seoulTime(t, 11, 0, 0)
	store := newMockStore()
	id := openPosition(store, "005930", 10, 70000, fptr(71000), nil, time.Time{})
	broker := &mockBroker{quotes: map[string]float64{"005930": 71500}}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.CheckOpenPositions(context.Background(), now, true))

	assert.Empty(t, broker.orders)
	assert.Equal(t, domain.StatusOpen, store.positions[id].Status)
}

func TestCheckOpenPositions_SellFailureKeepsPositionOpen(t *testing.T) {
	now := seoulTime(t, 11, 0, 0)
	store := newMockStore()
	id := openPosition(store, "005930", 10, 70000, fptr(71000), nil, time.Time{})
	broker := &mockBroker{
		quotes:   map[string]float64{"005930": 71500},
		holdings: map[string]ports.Holding{"005930": {Code: "005930", Qty: 10}},
		sellErr:  ports.ErrBrokerUnavailable,
	}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.CheckOpenPositions(context.Background(), now, true))
	assert.Equal(t, domain.StatusOpen, store.positions[id].Status, "close is recorded only after an accepted order")
}

func TestCheckOpenPositions_QuoteFailureSkipsPosition(t *testing.T) {
	now := seoulTime(t, 11, 0, 0)
	store := newMockStore()
	id := openPosition(store, "005930", 10, 70000, fptr(71000), nil, time.Time{})
	broker := &mockBroker{
		quoteErr: ports.ErrQuoteUnavailable,
		holdings: map[string]ports.Holding{"005930": {Code: "005930", Qty: 10}},
	}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.CheckOpenPositions(context.Background(), now, true))
	assert.Equal(t, domain.StatusOpen, store.positions[id].Status)
	assert.Empty(t, broker.orders)
}

// Forced closure

func TestForceBand(t *testing.T) {
	lo, hi, ok := forceBand(100, fptr(110), fptr(90))
	require.True(t, ok)
	assert.Equal(t, float64(95), lo)
	assert.Equal(t, float64(105), hi)

	_, _, ok = forceBand(100, nil, fptr(90))
	assert.False(t, ok, "no band without both targets")
}

func TestForceClose_BidOutsideBandHoldsBeforeHardDeadline(t *testing.T) {
	now := seoulTime(t, 15, 20, 0)
	store := newMockStore()
	id := openPosition(store, "005930", 10, 100, fptr(110), fptr(90), time.Time{})
	broker := &mockBroker{
		bids:     map[string]float64{"005930": 93},
		holdings: map[string]ports.Holding{"005930": {Code: "005930", Qty: 10}},
	}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.ForceClose(context.Background(), now))

	assert.Empty(t, broker.orders, "bid 93 below band floor 95, hold")
	assert.Equal(t, domain.StatusOpen, store.positions[id].Status)
}

func TestForceClose_BidInsideBandSellsAtBid(t *testing.T) {
	now := seoulTime(t, 15, 20, 0)
	store := newMockStore()
	id := openPosition(store, "005930", 10, 100, fptr(110), fptr(90), time.Time{})
	broker := &mockBroker{
		bids:     map[string]float64{"005930": 97},
		holdings: map[string]ports.Holding{"005930": {Code: "005930", Qty: 10}},
	}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.ForceClose(context.Background(), now))

	sells := broker.ordersOfKind("limit_sell")
	require.Len(t, sells, 1)
	assert.Equal(t, int64(97), sells[0].price)
	pos := store.positions[id]
	assert.Equal(t, domain.StatusClosed, pos.Status)
	assert.Equal(t, domain.ReasonForcedLimit, pos.ExitReason)
}

func TestForceClose_HardDeadlineClampsLowBidToFloor(t *testing.T) {
	now := seoulTime(t, 15, 29, 40) // past 15:29:30, before 15:29:50
	store := newMockStore()
	id := openPosition(store, "005930", 10, 100, fptr(110), fptr(90), time.Time{})
	broker := &mockBroker{
		bids:     map[string]float64{"005930": 93},
		holdings: map[string]ports.Holding{"005930": {Code: "005930", Qty: 10}},
	}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.ForceClose(context.Background(), now))

	sells := broker.ordersOfKind("limit_sell")
	require.Len(t, sells, 1)
	assert.Equal(t, int64(95), sells[0].price, "limit asks for the band floor, not the weak bid")
	assert.Equal(t, domain.StatusClosed, store.positions[id].Status)
}

func TestForceClose_MarketDeadlineFallsBackToMarketOrder(t *testing.T) {
	now := seoulTime(t, 15, 29, 55)
	store := newMockStore()
	id := openPosition(store, "005930", 10, 100, fptr(110), fptr(90), time.Time{})
	broker := &mockBroker{
		bids:     map[string]float64{"005930": 93},
		holdings: map[string]ports.Holding{"005930": {Code: "005930", Qty: 10}},
	}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.ForceClose(context.Background(), now))

	require.Len(t, broker.ordersOfKind("market_sell"), 1)
	pos := store.positions[id]
	assert.Equal(t, domain.StatusClosed, pos.Status)
	assert.Equal(t, domain.ReasonForcedMarket, pos.ExitReason)
}

func TestForceClose_MarketOrderWithoutBidRecordsLastPrice(t *testing.T) {
	now := seoulTime(t, 15, 29, 55)
	store := newMockStore()
	id := openPosition(store, "005930", 10, 100, fptr(110), fptr(90), time.Time{})
	broker := &mockBroker{
		bidErr:   ports.ErrQuoteUnavailable,
		holdings: map[string]ports.Holding{"005930": {Code: "005930", Qty: 10}},
	}
	eng := newTestEngine(t, testConfig(t), broker, store)
	eng.recordPrice("005930", 98)

	require.NoError(t, eng.ForceClose(context.Background(), now))

	pos := store.positions[id]
	assert.Equal(t, domain.StatusClosed, pos.Status)
	assert.Equal(t, float64(98), pos.ExitPrice, "last observed price, never zero")
}

func TestForceClose_MarketOrderWithoutAnyPriceRecordsEntry(t *testing.T) {
	now := seoulTime(t, 15, 29, 55)
	store := newMockStore()
	id := openPosition(store, "005930", 10, 100, fptr(110), fptr(90), time.Time{})
	broker := &mockBroker{
		bidErr:   ports.ErrQuoteUnavailable,
		holdings: map[string]ports.Holding{"005930": {Code: "005930", Qty: 10}},
	}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.ForceClose(context.Background(), now))

	pos := store.positions[id]
	assert.Equal(t, domain.StatusClosed, pos.Status)
	assert.Equal(t, float64(100), pos.ExitPrice)
	assert.Equal(t, float64(0), pos.GrossPnL, "no price observed, no fabricated loss")
}

func TestForceClose_ExpiredPositionsGoFirst(t *testing.T) {
	now := seoulTime(t, 15, 29, 55)
	store := newMockStore()
	openPosition(store, "005930", 10, 100, fptr(110), fptr(90), time.Time{})
	expiredID, _ := store.Insert(context.Background(), &domain.Position{
		Code: "000660", Side: domain.Buy, Status: domain.StatusExpired,
		Qty: 5, Entry: 200,
	})
	broker := &mockBroker{
		holdings: map[string]ports.Holding{
			"005930": {Code: "005930", Qty: 10},
			"000660": {Code: "000660", Qty: 5},
		},
	}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.ForceClose(context.Background(), now))

	sells := broker.ordersOfKind("market_sell")
	require.Len(t, sells, 2)
	assert.Equal(t, "000660", sells[0].code, "expired positions are liquidated first")
	assert.Equal(t, domain.StatusClosed, store.positions[expiredID].Status)
}

func TestForceClose_NoBidHoldsUntilMarketDeadline(t *testing.T) {
	now := seoulTime(t, 15, 20, 0)
	store := newMockStore()
	id := openPosition(store, "005930", 10, 100, fptr(110), fptr(90), time.Time{})
	broker := &mockBroker{
		bidErr:   ports.ErrQuoteUnavailable,
		holdings: map[string]ports.Holding{"005930": {Code: "005930", Qty: 10}},
	}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.ForceClose(context.Background(), now))
	assert.Empty(t, broker.orders)
	assert.Equal(t, domain.StatusOpen, store.positions[id].Status)
}

func TestForceClose_NoBandSellsAtBid(t *testing.T) {
	now := seoulTime(t, 15, 20, 0)
	store := newMockStore()
	id := openPosition(store, "005930", 10, 100, nil, nil, time.Time{})
	broker := &mockBroker{
		bids:     map[string]float64{"005930": 93},
		holdings: map[string]ports.Holding{"005930": {Code: "005930", Qty: 10}},
	}
	eng := newTestEngine(t, testConfig(t), broker, store)

	require.NoError(t, eng.ForceClose(context.Background(), now))

	sells := broker.ordersOfKind("limit_sell")
	require.Len(t, sells, 1)
	assert.Equal(t, int64(93), sells[0].price)
	assert.Equal(t, domain.StatusClosed, store.positions[id].Status)
}

// Snapshot publishing

func TestPublishSnapshot(t *testing.T) {
	now := seoulTime(t, 11, 0, 0)
	store := newMockStore()
	openPosition(store, "005930", 10, 70000, nil, nil, time.Time{})
	sink := &mockSink{}
	eng, err := NewEngine(testConfig(t), &mockLogger{}, &mockBroker{}, store, stubSignals{}, nil, sink)
	require.NoError(t, err)
	eng.recordPrice("005930", 70500)
	eng.countAdmitted()

	eng.publishSnapshot(context.Background(), now, PhaseSession)

	require.Len(t, sink.published, 1)
	snap := sink.published[0]
	assert.Equal(t, PhaseSession, snap.Phase)
	assert.Equal(t, 1, snap.Admitted)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, float64(70500), snap.Positions[0].LastPrice)
	assert.Equal(t, float64(5000), snap.TotalUnrealizedPnL)

	latest := eng.Snapshot()
	require.NotNil(t, latest)
	assert.Equal(t, snap.Time, latest.Time)
}

// Order reference helpers

func TestExtractOrderID(t *testing.T) {
	assert.Equal(t, "0000117057", extractOrderID("from daily signal file | order_id=0000117057"))
	assert.Equal(t, "A-1_b", extractOrderID("order_id=A-1_b trailing"))
	assert.Equal(t, "", extractOrderID("no reference here"))
}
