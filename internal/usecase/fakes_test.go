package usecase

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"PriceAlarm/internal/domain/models"
	applogger "PriceAlarm/pkg/logger"

	"github.com/shopspring/decimal"
)

type memStore struct {
	mu      sync.Mutex
	alarms  map[string]models.Alarm
	seq     int
	listErr error
	listFn  func() // called inside ListAlarms, may block or panic
}

func newMemStore(alarms ...models.Alarm) *memStore {
	s := &memStore{alarms: make(map[string]models.Alarm)}
	for _, a := range alarms {
		a := a
		_, _ = s.Upsert(context.Background(), &a)
	}
	return s
}

func (s *memStore) ListAlarms(context.Context) ([]models.Alarm, error) {
	if s.listFn != nil {
		s.listFn()
	}
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Alarm, 0, len(s.alarms))
	for _, a := range s.alarms {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ListByRecipient(ctx context.Context, r string) ([]models.Alarm, error) {
	all, err := s.ListAlarms(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Alarm, 0)
	for _, a := range all {
		if a.RecipientID == r {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) Upsert(_ context.Context, a *models.Alarm) (*models.Alarm, error) {
	out := *a
	out.Normalize()
	if err := out.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.alarms {
		if existing.RecipientID == out.RecipientID && existing.Ticker == out.Ticker {
			out.ID = id
			s.alarms[id] = out
			return &out, nil
		}
	}
	if out.ID == "" {
		s.seq++
		out.ID = "a" + strconv.Itoa(s.seq)
	}
	s.alarms[out.ID] = out
	return &out, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alarms[id]; !ok {
		return models.ErrAlarmNotFound
	}
	delete(s.alarms, id)
	return nil
}

func (s *memStore) DeleteByTicker(_ context.Context, r, ticker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.alarms {
		if a.RecipientID == r && a.Ticker == models.NormalizeTicker(ticker) {
			delete(s.alarms, id)
			return nil
		}
	}
	return models.ErrAlarmNotFound
}

func (s *memStore) DeleteByRecipient(_ context.Context, r string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, a := range s.alarms {
		if a.RecipientID == r {
			delete(s.alarms, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) Health(context.Context) error { return nil }
func (s *memStore) Close() error                 { return nil }

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alarms)
}

// scriptedSource serves fixed prices keyed by wire symbol.
type scriptedSource struct {
	mu      sync.Mutex
	prices  map[string]string
	err     error
	calls   int
	queries [][]string
	block   chan struct{} // when set, FetchQuotes waits for it to close
	entered chan struct{} // when set, signalled on entry
}

func (s *scriptedSource) FetchQuotes(_ context.Context, symbols []string) (map[string]models.Quote, error) {
	s.mu.Lock()
	s.calls++
	s.queries = append(s.queries, append([]string(nil), symbols...))
	s.mu.Unlock()

	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]models.Quote)
	for _, sym := range symbols {
		if p, ok := s.prices[sym]; ok {
			out[sym] = models.Quote{Ticker: sym, Price: decimal.RequireFromString(p)}
		}
	}
	return out, nil
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type sentMessage struct {
	RecipientID string
	Text        string
}

type recordingNotifier struct {
	mu      sync.Mutex
	sent    []sentMessage
	failFor map[string]error
}

func (n *recordingNotifier) Send(_ context.Context, recipientID, text string) error {
	if err, ok := n.failFor[recipientID]; ok {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{RecipientID: recipientID, Text: text})
	return nil
}

func (n *recordingNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

func (n *recordingNotifier) recipients() []string {
	var out []string
	for _, m := range n.messages() {
		out = append(out, m.RecipientID)
	}
	sort.Strings(out)
	return out
}

type recordingHistory struct {
	mu       sync.Mutex
	triggers []models.Trigger
	err      error
}

func (h *recordingHistory) Record(_ context.Context, t *models.Trigger) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.triggers = append(h.triggers, *t)
	return h.err
}

func (h *recordingHistory) Close() error { return nil }

type countingMetrics struct {
	cycles  sync.Map // result -> *atomic.Int64
	fired   atomic.Int64
	missing atomic.Int64
	errs    sync.Map // kind -> *atomic.Int64
}

func counter(m *sync.Map, key string) *atomic.Int64 {
	v, _ := m.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

func (m *countingMetrics) RecordCycle(result string, _ float64) { counter(&m.cycles, result).Add(1) }
func (m *countingMetrics) RecordAlarmsEvaluated(int)            {}
func (m *countingMetrics) RecordFired(string)                   { m.fired.Add(1) }
func (m *countingMetrics) RecordQuoteMissing(string)            { m.missing.Add(1) }
func (m *countingMetrics) RecordError(kind string)              { counter(&m.errs, kind).Add(1) }
func (m *countingMetrics) RecordLastPrice(string, float64)      {}
func (m *countingMetrics) RecordLatency(string, float64)        {}

func (m *countingMetrics) cycleCount(result string) int64 { return counter(&m.cycles, result).Load() }
func (m *countingMetrics) errCount(kind string) int64     { return counter(&m.errs, kind).Load() }

var errBoom = errors.New("boom")

func mkAlarm(id, recipient, ticker string, dir models.Direction, target string) models.Alarm {
	return models.Alarm{
		ID:          id,
		RecipientID: recipient,
		Ticker:      ticker,
		Direction:   dir,
		Target:      decimal.RequireFromString(target),
	}
}

func nopLog() *applogger.Logger { return applogger.Nop() }
