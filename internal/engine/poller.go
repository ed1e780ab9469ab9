package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/promptguard-dashboard/internal/domain"
	"github.com/xela07ax/promptguard-dashboard/internal/gateway"
)

// DefaultPollInterval — период опроса ленты.
const DefaultPollInterval = 500 * time.Millisecond

// FeedSource — лента промптов шлюза.
type FeedSource interface {
	RecentPrompts(ctx context.Context, since int64) ([]domain.PromptRecord, error)
}

// Poller по таймеру забирает новые промпты, ведет курсор и историю
// и запускает прогон для самого нового из пачки.
type Poller struct {
	src      FeedSource
	board    *Board
	seq      *Sequencer
	interval time.Duration
	metrics  *Metrics
	logger   *zap.Logger

	// onFresh получает каждую свежую пачку (очередь ревью)
	onFresh func([]domain.PromptRecord)
}

func NewPoller(src FeedSource, board *Board, seq *Sequencer, interval time.Duration, metrics *Metrics, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Poller{
		src:      src,
		board:    board,
		seq:      seq,
		interval: interval,
		metrics:  metrics,
		logger:   logger.With(zap.String("mod", "poller")),
	}
}

// OnFresh регистрирует подписчика на свежие пачки.
func (p *Poller) OnFresh(fn func([]domain.PromptRecord)) {
	p.onFresh = fn
}

// Run крутит цикл опроса до отмены контекста и дожидается фоновых прогонов.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("feed polling started", zap.Duration("interval", p.interval))
	for {
		select {
		case <-ctx.Done():
			p.seq.Wait()
			p.logger.Info("feed polling stopped", zap.Int64("cursor", p.board.Cursor()))
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick — один опрос ленты. Ошибки не прерывают опрос: тик просто пропускается.
// Возвращает число новых промптов, попавших в историю.
func (p *Poller) Tick(ctx context.Context) int {
	since := p.board.Cursor()

	batch, err := p.src.RecentPrompts(ctx, since)
	if err != nil {
		p.metrics.PollErrors.Inc()
		if !errors.Is(err, gateway.ErrBreakerOpen) {
			p.logger.Debug("poll failed", zap.Int64("since", since), zap.Error(err))
		}
		return 0
	}

	fresh := unseen(batch, since)
	if len(fresh) == 0 {
		return 0
	}

	usable := wellFormed(fresh)
	p.board.ingest(fresh[0].ID, usable)
	if len(usable) == 0 {
		p.logger.Debug("poll batch had only malformed records", zap.Int64("cursor", fresh[0].ID))
		return 0
	}

	if p.onFresh != nil {
		p.onFresh(usable)
	}

	// Самая новая запись проигрывается даже без слоев: отсутствующий слой — safe
	newest := usable[0]
	p.seq.TriggerFeed(ctx, newest)
	return len(usable)
}

// wellFormed оставляет только полностью разобранные записи.
func wellFormed(fresh []domain.PromptRecord) []domain.PromptRecord {
	out := make([]domain.PromptRecord, 0, len(fresh))
	for _, rec := range fresh {
		if !rec.Malformed {
			out = append(out, rec)
		}
	}
	return out
}

// unseen отбрасывает уже виденные id (<= курсора) и повторы внутри пачки,
// результат отсортирован по убыванию id.
func unseen(batch []domain.PromptRecord, cursor int64) []domain.PromptRecord {
	seen := make(map[int64]struct{}, len(batch))
	out := make([]domain.PromptRecord, 0, len(batch))
	for _, rec := range batch {
		if rec.ID <= cursor {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}
