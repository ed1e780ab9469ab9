package review

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/promptguard-dashboard/internal/domain"
)

var (
	ErrNotFound        = errors.New("review: item not found")
	ErrUnknownDecision = errors.New("review: unknown decision")
)

// DefaultCapacity — максимум ожидающих ревью промптов.
const DefaultCapacity = 200

type Decision string

const (
	DecisionPending Decision = "PENDING"
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// ParseDecision принимает approve/reject/skip и их однобуквенные формы.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A", "APPROVE":
		return DecisionApprove, nil
	case "R", "REJECT":
		return DecisionReject, nil
	case "S", "SKIP":
		return DecisionPending, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDecision, s)
}

// Item — промпт из ленты, ожидающий решения оператора.
type Item struct {
	PromptID    int64     `json:"prompt_id"`
	Prompt      string    `json:"prompt"`
	Result      string    `json:"result"`
	ThreatScore int       `json:"threat_score"`
	ReceivedAt  time.Time `json:"received_at"`
	Suggestion  Decision  `json:"suggestion"`
	Decision    Decision  `json:"decision"`
	DecidedAt   time.Time `json:"decided_at,omitzero"`
}

// Queue — in-memory очередь ревью. Одобренные промпты образуют белый список.
type Queue struct {
	mu        sync.Mutex
	items     map[int64]*Item
	order     []int64 // порядок поступления, старые первыми
	whitelist []string
	capacity  int
	logger    *zap.Logger
}

func NewQueue(capacity int, logger *zap.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items:    make(map[int64]*Item),
		capacity: capacity,
		logger:   logger.Named("review"),
	}
}

// suggest: шлюз пропустил — предлагаем одобрить, иначе отклонить.
func suggest(result domain.Verdict) Decision {
	if result == domain.VerdictSafe || result == domain.VerdictSafeWhitelisted {
		return DecisionApprove
	}
	return DecisionReject
}

// Add ставит в очередь свежие промпты из ленты. Повторные id игнорируются.
func (q *Queue) Add(records []domain.PromptRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, rec := range records {
		if _, ok := q.items[rec.ID]; ok {
			continue
		}
		received := rec.Timestamp.Time
		if received.IsZero() {
			received = time.Now()
		}
		q.items[rec.ID] = &Item{
			PromptID:    rec.ID,
			Prompt:      rec.Prompt,
			Result:      string(rec.Result),
			ThreatScore: rec.ThreatScore,
			ReceivedAt:  received,
			Suggestion:  suggest(rec.Result),
			Decision:    DecisionPending,
		}
		q.order = append(q.order, rec.ID)
	}
	q.evict()
}

// evict выбрасывает самые старые элементы сверх емкости.
func (q *Queue) evict() {
	for len(q.order) > q.capacity {
		delete(q.items, q.order[0])
		q.order = q.order[1:]
	}
}

// Pending возвращает ожидающие элементы в порядке поступления.
func (q *Queue) Pending() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Item, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *q.items[id])
	}
	return out
}

// Decide фиксирует решение и убирает элемент из очереди.
// Skip оставляет элемент в очереди.
func (q *Queue) Decide(promptID int64, d Decision) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[promptID]
	if !ok {
		return Item{}, ErrNotFound
	}
	switch d {
	case DecisionPending:
		return *it, nil
	case DecisionApprove:
		q.whitelist = append(q.whitelist, it.Prompt)
	case DecisionReject:
	default:
		return *it, ErrUnknownDecision
	}

	it.Decision = d
	it.DecidedAt = time.Now()
	q.remove(promptID)
	q.logger.Info("prompt reviewed",
		zap.Int64("prompt_id", promptID),
		zap.String("decision", string(d)),
		zap.String("suggestion", string(it.Suggestion)))
	return *it, nil
}

// Whitelist — одобренные промпты в формате строк белого списка шлюза:
// "текст с удвоенными кавычками",0
func (q *Queue) Whitelist() string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var sb strings.Builder
	for _, p := range q.whitelist {
		sb.WriteString(`"`)
		sb.WriteString(strings.ReplaceAll(p, `"`, `""`))
		sb.WriteString("\",0\n")
	}
	return sb.String()
}

func (q *Queue) remove(promptID int64) {
	delete(q.items, promptID)
	for i, id := range q.order {
		if id == promptID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}
