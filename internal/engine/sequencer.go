package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/promptguard-dashboard/internal/domain"
	"github.com/xela07ax/promptguard-dashboard/internal/events"
)

// ErrBusy — другой прогон уже идет.
var ErrBusy = errors.New("engine: a run is already in flight")

// Phase — состояние конечного автомата прогона.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScanRITD
	PhaseScanNCD
	PhaseScanLDF
	PhaseForwarding
	PhaseSafe
	PhaseBlocked
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseScanRITD:
		return "SCANNING(RITD)"
	case PhaseScanNCD:
		return "SCANNING(NCD)"
	case PhaseScanLDF:
		return "SCANNING(LDF)"
	case PhaseForwarding:
		return "FORWARDING"
	case PhaseSafe:
		return "SAFE"
	case PhaseBlocked:
		return "BLOCKED"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// scanStep — строка таблицы переходов для фаз сканирования.
type scanStep struct {
	layer  domain.LayerKey
	onSafe Phase
}

var scanTable = map[Phase]scanStep{
	PhaseScanRITD: {layer: domain.LayerRITD, onSafe: PhaseScanNCD},
	PhaseScanNCD:  {layer: domain.LayerNCD, onSafe: PhaseScanLDF},
	PhaseScanLDF:  {layer: domain.LayerLDF, onSafe: PhaseForwarding},
}

// Next — единственное место, где определены переходы.
// Любая фаза сканирования при danger уходит сразу в BLOCKED.
func (p Phase) Next(outcome domain.LayerState) Phase {
	switch p {
	case PhaseIdle:
		return PhaseScanRITD
	case PhaseForwarding:
		return PhaseSafe
	case PhaseSafe, PhaseBlocked:
		return PhaseIdle
	}
	step, ok := scanTable[p]
	if !ok {
		return PhaseIdle
	}
	if outcome == domain.StateDanger {
		return PhaseBlocked
	}
	return step.onSafe
}

func (p Phase) Terminal() bool {
	return p == PhaseSafe || p == PhaseBlocked
}

const maxTriggerLines = 3

// Replay — данные одного прогона: готовый вердикт шлюза, ничего не пересчитывается.
type Replay struct {
	Source   domain.RunSource
	PromptID int64
	Prompt   string
	Layers   domain.LayerMap
	Threat   *domain.ThreatAnalysis

	// Только для пользовательских прогонов
	LLMResponse string
	LLMError    string
}

// RunRecorder принимает итоги прогонов (events.Recorder).
type RunRecorder interface {
	Record(event events.RunEvent)
}

type Sequencer struct {
	board    *Board
	delay    time.Duration
	metrics  *Metrics
	recorder RunRecorder
	logger   *zap.Logger

	inflight sync.WaitGroup
}

func NewSequencer(board *Board, delay time.Duration, metrics *Metrics, recorder RunRecorder, logger *zap.Logger) *Sequencer {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Sequencer{
		board:    board,
		delay:    delay,
		metrics:  metrics,
		recorder: recorder,
		logger:   logger.With(zap.String("mod", "sequencer")),
	}
}

// Run — синхронный прогон готового вердикта с захватом флага. Если занято —
// ErrBusy, состояние не трогается. Рабочие пути идут через TriggerFeed и
// Dispatcher; Run — точка входа для прогона секвенсора отдельно от них.
func (s *Sequencer) Run(ctx context.Context, r Replay) (domain.Verdict, error) {
	release, ok := s.board.TryAcquire()
	if !ok {
		return "", ErrBusy
	}
	defer release()

	s.begin(r)
	return s.replay(ctx, r), nil
}

// TriggerFeed запускает прогон для промпта из ленты в фоне.
// Решение "запустить или отбросить" принимается синхронно; отброшенный
// промпт не ставится в очередь.
func (s *Sequencer) TriggerFeed(ctx context.Context, rec domain.PromptRecord) bool {
	release, ok := s.board.TryAcquire()
	if !ok {
		s.metrics.RunsDropped.Inc()
		s.logger.Debug("feed run dropped: sequencer busy", zap.Int64("prompt_id", rec.ID))
		return false
	}

	r := Replay{
		Source:   domain.SourceFeed,
		PromptID: rec.ID,
		Prompt:   rec.Prompt,
		Layers:   rec.Layers,
		Threat:   rec.ThreatAnalysis,
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer release()

		s.begin(r)
		s.replay(ctx, r)
	}()
	return true
}

// Wait дожидается завершения фоновых прогонов.
func (s *Sequencer) Wait() {
	s.inflight.Wait()
}

// begin — сброс и вводные строки лога. Вызывается держателем флага.
func (s *Sequencer) begin(r Replay) {
	s.board.resetRun(r.Prompt)
	s.board.with(func() {
		if r.Source == domain.SourceFeed {
			s.board.log(fmt.Sprintf(`[CHATBOT] Processing: "%s..."`, truncate(r.Prompt, 40)), domain.LogSystem)
		}
		s.board.showVerdict(r.Layers, r.Threat)
	})
}

// replay проходит слои по таблице переходов. Флаг прогона должен быть уже захвачен.
func (s *Sequencer) replay(ctx context.Context, r Replay) domain.Verdict {
	start := time.Now()
	b := s.board

	phase := PhaseIdle.Next(domain.StateIdle)
	var blockedAt domain.LayerKey

	for !phase.Terminal() && phase != PhaseForwarding {
		step := scanTable[phase]
		layer := step.layer

		b.with(func() {
			b.phase = phase
			b.current = layer
			b.layerStatus[layer] = domain.StateScanning
			b.log(fmt.Sprintf("Running %s checks...", layer.Label()), domain.LogInfo)
		})

		s.pause(ctx)

		verdict := r.Layers[layer]
		outcome := verdict.Resolve()
		next := phase.Next(outcome)

		b.with(func() {
			b.layerStatus[layer] = outcome
			if verdict != nil && verdict.Reason != "" {
				sev := domain.LogSuccess
				if outcome == domain.StateDanger {
					sev = domain.LogError
				}
				b.log(verdict.Reason, sev)
			}
			// Триггеры RITD логируются как error независимо от статуса слоя
			if layer == domain.LayerRITD && verdict != nil {
				for i, hit := range verdict.Hits {
					if i == maxTriggerLines {
						break
					}
					b.log("Trigger: "+hit, domain.LogError)
				}
			}
			if next == PhaseBlocked {
				b.phase = PhaseBlocked
				b.result = domain.VerdictBlocked
				b.current = ""
				b.log(fmt.Sprintf("[BLOCK] Halted at %s.", layer), domain.LogError)
			}
		})

		if next == PhaseBlocked {
			blockedAt = layer
		}
		phase = next
	}

	if phase == PhaseForwarding {
		b.with(func() {
			b.phase = PhaseForwarding
			b.current = domain.LayerLLM
			b.log("Prompt cleared all defenses.", domain.LogSuccess)
			if r.Source == domain.SourceUser {
				b.log("Forwarding to upstream LLM API...", domain.LogSuccess)
				b.surfaceAnswer(r.LLMResponse, r.LLMError)
			} else {
				b.log("LLM response sent to chatbot.", domain.LogSuccess)
			}
			b.result = domain.VerdictSafe
			b.phase = phase.Next(domain.StateSafe)
		})
		phase = PhaseSafe
	}

	result := domain.VerdictSafe
	if phase == PhaseBlocked {
		result = domain.VerdictBlocked
	}
	s.finish(r, start, result, blockedAt, "")
	return result
}

// finish фиксирует итог прогона в метриках и событиях.
func (s *Sequencer) finish(r Replay, start time.Time, result domain.Verdict, blockedAt domain.LayerKey, errMsg string) {
	resultLabel := string(result)
	if errMsg != "" {
		resultLabel = "FAILED"
	}

	s.metrics.Runs.WithLabelValues(string(r.Source), resultLabel).Inc()
	s.metrics.RunDuration.WithLabelValues(string(r.Source)).Observe(time.Since(start).Seconds())

	s.logger.Debug("run finished",
		zap.String("source", string(r.Source)),
		zap.Int64("prompt_id", r.PromptID),
		zap.String("result", resultLabel),
		zap.String("blocked_at", string(blockedAt)),
	)

	if s.recorder == nil {
		return
	}
	ev := events.RunEvent{
		ID:         uuid.NewString(),
		Source:     string(r.Source),
		PromptID:   r.PromptID,
		Result:     resultLabel,
		BlockedAt:  string(blockedAt),
		StartedAt:  start,
		DurationMs: time.Since(start).Milliseconds(),
		Error:      errMsg,
	}
	if r.Threat != nil {
		ev.ThreatScore = r.Threat.ThreatScore
	}
	s.recorder.Record(ev)
}

// pause — косметическая пауза между переходами. Отмена контекста лишь
// убирает паузу: прогон всё равно доходит до терминального состояния.
func (s *Sequencer) pause(ctx context.Context) {
	if s.delay <= 0 {
		return
	}
	t := time.NewTimer(s.delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// showVerdict сохраняет данные для панелей и пишет строку с оценкой угрозы.
// Вызывать под мьютексом.
func (b *Board) showVerdict(layers domain.LayerMap, threat *domain.ThreatAnalysis) {
	if layers != nil {
		b.layers = layers
	}
	if threat == nil {
		return
	}
	b.threat = threat

	sev := domain.LogSuccess
	switch threat.Severity() {
	case "high":
		sev = domain.LogError
	case "medium":
		sev = domain.LogInfo
	}
	b.log(threat.Summary(), sev)
}

// surfaceAnswer показывает ответ LLM или его ошибку. Вызывать под мьютексом.
func (b *Board) surfaceAnswer(answer, answerErr string) {
	switch {
	case answer != "" && strings.HasPrefix(answer, "Error:"):
		b.llmError = answer
		b.log("LLM Error: "+answer, domain.LogError)
	case answer != "":
		b.llmResponse = answer
		b.log("LLM response received successfully.", domain.LogSuccess)
	case answerErr != "":
		b.llmError = answerErr
		b.log("LLM Error: "+answerErr, domain.LogError)
	default:
		b.log("No LLM response received.", domain.LogInfo)
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
