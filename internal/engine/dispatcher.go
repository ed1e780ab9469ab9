package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xela07ax/promptguard-dashboard/internal/domain"
)

// ErrEmptyPrompt — пустой или состоящий из пробелов промпт не отправляется.
var ErrEmptyPrompt = errors.New("engine: prompt is empty")

// Analyzer — внешний шлюз, выполняющий полный анализ промпта.
type Analyzer interface {
	Analyze(ctx context.Context, prompt string) (*domain.AnalyzeResponse, error)
}

// Dispatcher обрабатывает ручную отправку промпта пользователем.
type Dispatcher struct {
	gw     Analyzer
	board  *Board
	seq    *Sequencer
	logger *zap.Logger
}

func NewDispatcher(gw Analyzer, board *Board, seq *Sequencer, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		gw:     gw,
		board:  board,
		seq:    seq,
		logger: logger.With(zap.String("mod", "dispatcher")),
	}
}

// Submit отправляет промпт в шлюз и проигрывает вердикт. Флаг прогона
// держит сам Dispatcher и освобождает его на любом пути выхода.
func (d *Dispatcher) Submit(ctx context.Context, prompt string) (domain.Verdict, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	release, ok := d.board.TryAcquire()
	if !ok {
		return "", ErrBusy
	}
	defer release()

	start := time.Now()
	d.board.resetRun(prompt)
	d.board.Log(fmt.Sprintf("[CLIENT] Dispatching prompt (%d chars) to gateway.", utf8.RuneCountInString(prompt)), domain.LogSystem)

	resp, err := d.gw.Analyze(ctx, prompt)
	if err != nil {
		d.fail(err)
		d.seq.finish(Replay{Source: domain.SourceUser, Prompt: prompt}, start, "", "", err.Error())
		return "", fmt.Errorf("dispatch: %w", err)
	}

	r := Replay{
		Source:      domain.SourceUser,
		Prompt:      prompt,
		Layers:      resp.Layers,
		Threat:      resp.ThreatAnalysis,
		LLMResponse: resp.LLMResponse,
		LLMError:    resp.Error,
	}

	d.board.with(func() {
		d.board.showVerdict(resp.Layers, resp.ThreatAnalysis)
		d.board.agg.ObserveAnalysis(resp)
	})

	verdict := d.seq.replay(ctx, r)
	d.logger.Info("prompt analyzed",
		zap.String("verdict", string(verdict)),
		zap.String("gateway_result", string(resp.Result)),
		zap.Duration("took", time.Since(start)))
	return verdict, nil
}

// fail — ошибка шлюза: видимая запись в логе и полный сброс слоев и результата.
func (d *Dispatcher) fail(err error) {
	d.logger.Warn("gateway call failed", zap.Error(err))

	d.board.with(func() {
		d.board.layerStatus = domain.IdleLayers()
		d.board.result = ""
		d.board.current = ""
		d.board.phase = PhaseIdle
		d.board.log("Gateway error: "+err.Error(), domain.LogError)
	})
}
