package engine

import "github.com/xela07ax/promptguard-dashboard/internal/domain"

// Aggregator — счетчики и последние оценки дашборда.
// Не потокобезопасен сам по себе: вызывается под мьютексом Board.
type Aggregator struct {
	m       domain.Metrics
	metrics *Metrics
}

func NewAggregator(metrics *Metrics) *Aggregator {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Aggregator{metrics: metrics}
}

// ObserveFeedItem учитывает самый новый промпт пачки из ленты:
// +1 к просмотренным, +1 к заблокированным для BLOCKED, оценки только если пришли.
func (a *Aggregator) ObserveFeedItem(rec domain.PromptRecord) {
	a.m.TotalScanned++
	a.metrics.PromptsScanned.Inc()
	if rec.Result == domain.VerdictBlocked {
		a.m.BlockedCount++
		a.metrics.PromptsBlocked.Inc()
	}
	a.applyScores(rec.Metrics)
}

// ObserveAnalysis переносит данные из ответа /analyze.
// Серверные счетчики не могут уменьшить локальные.
func (a *Aggregator) ObserveAnalysis(resp *domain.AnalyzeResponse) {
	a.applyScores(resp.Metrics)

	if c := resp.Counters; c != nil {
		if c.TotalScanned != nil && *c.TotalScanned > a.m.TotalScanned {
			a.metrics.PromptsScanned.Add(float64(*c.TotalScanned - a.m.TotalScanned))
			a.m.TotalScanned = *c.TotalScanned
		}
		if c.BlockedCount != nil && *c.BlockedCount > a.m.BlockedCount {
			a.metrics.PromptsBlocked.Add(float64(*c.BlockedCount - a.m.BlockedCount))
			a.m.BlockedCount = *c.BlockedCount
		}
	}

	if p := resp.Performance; p != nil {
		if p.CPUSpeed != nil {
			a.m.CPUSpeed = *p.CPUSpeed
		}
		if p.CPUThroughput != nil {
			a.m.CPUThroughput = *p.CPUThroughput
		}
		if p.CPUCores != nil {
			a.m.CPUCores = *p.CPUCores
		}
	}
}

func (a *Aggregator) applyScores(s *domain.ScoreSample) {
	if s == nil {
		return
	}
	if s.NCDScore != nil {
		a.m.NCDScore = *s.NCDScore
		a.metrics.LayerScore.WithLabelValues(string(domain.LayerNCD)).Set(*s.NCDScore)
	}
	if s.LDFScore != nil {
		a.m.LDFScore = *s.LDFScore
		a.metrics.LayerScore.WithLabelValues(string(domain.LayerLDF)).Set(*s.LDFScore)
	}
}

func (a *Aggregator) Snapshot() domain.Metrics {
	return a.m
}
