package events

/*
Recorder собирает итоги прогонов и пачками отдает их в Sink.

- Record никогда не блокирует секвенсор: при переполнении буфера событие
  сбрасывается с записью в лог (Load Shedding).
- Пачка уходит при достижении batchSize или по таймеру.
- Stop закрывает вход и дожидается финального flush (Drain Pattern).
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const batchSize = 100

// Sink — куда физически уходят события.
type Sink interface {
	WriteBatch(ctx context.Context, events []RunEvent) error
}

type Recorder struct {
	ch       chan RunEvent
	sink     Sink
	interval time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
	isClosed atomic.Bool
	closeMu  sync.RWMutex
}

func NewRecorder(sink Sink, bufferSize int, interval time.Duration, logger *zap.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Recorder{
		ch:       make(chan RunEvent, bufferSize),
		sink:     sink,
		interval: interval,
		logger:   logger.With(zap.String("mod", "events")),
	}
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.worker()
}

// Stop запирает вход и ждет, пока воркер всё допишет.
func (r *Recorder) Stop() {
	r.closeMu.Lock()
	if r.isClosed.Swap(true) {
		r.closeMu.Unlock()
		return
	}
	r.logger.Info("stopping recorder: closing channel and flushing buffer...")
	close(r.ch)
	r.closeMu.Unlock()

	r.wg.Wait()
	r.logger.Info("recorder stopped gracefully")
}

func (r *Recorder) Record(event RunEvent) {
	if event.StartedAt.IsZero() {
		event.StartedAt = time.Now()
	}

	r.closeMu.RLock()
	defer r.closeMu.RUnlock()

	if r.isClosed.Load() {
		r.logger.Warn("run event dropped: recorder is stopping", zap.String("id", event.ID))
		return
	}

	select {
	case r.ch <- event:
	default:
		r.logger.Error("event_buffer_overflow",
			zap.String("id", event.ID),
			zap.String("source", event.Source),
			zap.String("result", event.Result),
		)
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	batch := make([]RunEvent, 0, batchSize)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к этому моменту может быть уже закрыт
		if err := r.sink.WriteBatch(context.Background(), batch); err != nil {
			r.logger.Error("event flush failed", zap.Int("count", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-r.ch:
			if !ok {
				flush()
				r.logger.Debug("event worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// NopSink — когда Redis не настроен.
type NopSink struct{}

func (NopSink) WriteBatch(context.Context, []RunEvent) error { return nil }
