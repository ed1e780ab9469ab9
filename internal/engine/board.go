package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xela07ax/promptguard-dashboard/internal/domain"
)

// DefaultHistorySize — сколько последних промптов ленты хранит дашборд.
const DefaultHistorySize = 20

// Board — единственный владелец изменяемого состояния дашборда.
// Писать в него может только держатель флага прогона (busy), мьютекс
// нужен лишь для консистентных снимков со стороны HTTP-читателей.
type Board struct {
	busy atomic.Bool

	mu          sync.Mutex
	logs        *LogRing
	agg         *Aggregator
	layerStatus domain.LayerStatusMap
	phase       Phase
	current     domain.LayerKey
	result      domain.Verdict
	threat      *domain.ThreatAnalysis
	layers      domain.LayerMap
	prompt      string
	llmResponse string
	llmError    string

	cursor      int64
	history     []domain.PromptRecord
	historySize int

	now func() time.Time
}

type BoardOption func(*Board)

func WithLogCapacity(n int) BoardOption {
	return func(b *Board) { b.logs = NewLogRing(n) }
}

func WithHistorySize(n int) BoardOption {
	return func(b *Board) {
		if n > 0 {
			b.historySize = n
		}
	}
}

func WithClock(now func() time.Time) BoardOption {
	return func(b *Board) { b.now = now }
}

func NewBoard(agg *Aggregator, opts ...BoardOption) *Board {
	if agg == nil {
		agg = NewAggregator(nil)
	}
	b := &Board{
		logs:        NewLogRing(DefaultLogCapacity),
		agg:         agg,
		layerStatus: domain.IdleLayers(),
		historySize: DefaultHistorySize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// TryAcquire захватывает флаг прогона. release обязателен на всех путях выхода:
//
//	release, ok := b.TryAcquire()
//	if !ok { return }
//	defer release()
func (b *Board) TryAcquire() (release func(), ok bool) {
	if !b.busy.CompareAndSwap(false, true) {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { b.busy.Store(false) })
	}, true
}

func (b *Board) Processing() bool {
	return b.busy.Load()
}

// with выполняет fn под мьютексом состояния.
func (b *Board) with(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn()
}

// resetRun — общий сброс перед каждым прогоном.
func (b *Board) resetRun(prompt string) {
	b.with(func() {
		b.logs.Clear()
		b.layerStatus = domain.IdleLayers()
		b.phase = PhaseIdle
		b.current = ""
		b.result = ""
		b.threat = nil
		b.layers = nil
		b.prompt = prompt
		b.llmResponse = ""
		b.llmError = ""
	})
}

// log добавляет запись; вызывать под мьютексом.
func (b *Board) log(msg string, sev domain.LogSeverity) {
	b.logs.Push(domain.LogEntry{Time: b.now(), Message: msg, Severity: sev})
}

// Log — потокобезопасная версия log.
func (b *Board) Log(msg string, sev domain.LogSeverity) {
	b.with(func() { b.log(msg, sev) })
}

// ingest двигает курсор до maxID и вливает свежую пачку ленты (уже
// отсортированную newest-first) в историю. Курсор никогда не уменьшается.
// Пачка может быть пустой, если все новые записи оказались битыми.
func (b *Board) ingest(maxID int64, fresh []domain.PromptRecord) {
	b.with(func() {
		if maxID > b.cursor {
			b.cursor = maxID
		}
		if len(fresh) == 0 {
			return
		}

		merged := make([]domain.PromptRecord, 0, len(fresh)+len(b.history))
		merged = append(merged, fresh...)
		merged = append(merged, b.history...)
		if len(merged) > b.historySize {
			merged = merged[:b.historySize]
		}
		b.history = merged

		b.agg.ObserveFeedItem(fresh[0])
	})
}

func (b *Board) Cursor() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// History возвращает копию последних промптов, самый новый первым.
func (b *Board) History() []domain.PromptRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.PromptRecord, len(b.history))
	copy(out, b.history)
	return out
}

func (b *Board) Snapshot() domain.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := make(domain.LayerStatusMap, len(b.layerStatus))
	for k, v := range b.layerStatus {
		status[k] = v
	}

	return domain.Snapshot{
		Processing:     b.busy.Load(),
		Phase:          b.phase.String(),
		CurrentLayer:   b.current,
		Result:         b.result,
		LayerStatus:    status,
		Logs:           b.logs.Entries(),
		Metrics:        b.agg.Snapshot(),
		ThreatAnalysis: b.threat,
		Layers:         b.layers,
		Prompt:         b.prompt,
		LLMResponse:    b.llmResponse,
		LLMError:       b.llmError,
	}
}
