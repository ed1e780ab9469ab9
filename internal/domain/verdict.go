package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LayerKey — идентификатор слоя детекции шлюза.
type LayerKey string

const (
	LayerRITD LayerKey = "RITD" // Role-Inversion Trap Detector
	LayerNCD  LayerKey = "NCD"  // Math-First Entropy
	LayerLDF  LayerKey = "LDF"  // Linguistic DNA Fingerprint

	// LayerLLM — синтетическая четвертая стадия: передача промпта в upstream LLM.
	LayerLLM LayerKey = "LLM"
)

// PipelineOrder — фиксированный порядок прохождения слоев.
var PipelineOrder = []LayerKey{LayerRITD, LayerNCD, LayerLDF}

// Label возвращает человекочитаемое имя слоя для логов.
func (k LayerKey) Label() string {
	switch k {
	case LayerRITD:
		return "Role-Inversion Trap Detector"
	case LayerNCD:
		return "Math-First Entropy (NCD)"
	case LayerLDF:
		return "Linguistic DNA Fingerprint"
	case LayerLLM:
		return "Upstream LLM"
	}
	return string(k)
}

// Verdict — итоговое решение по промпту.
type Verdict string

const (
	VerdictSafe            Verdict = "SAFE"
	VerdictBlocked         Verdict = "BLOCKED"
	VerdictSafeWhitelisted Verdict = "SAFE_WHITELISTED" // Промпт из белого списка шлюза
)

// LayerState — визуальное состояние слоя на дашборде.
type LayerState string

const (
	StateIdle     LayerState = "idle"
	StateScanning LayerState = "scanning"
	StateSafe     LayerState = "safe"
	StateDanger   LayerState = "danger"
)

// LayerVerdict — ответ одного слоя. Hits заполняет только RITD.
type LayerVerdict struct {
	Status string   `json:"status"`
	Reason string   `json:"reason,omitempty"`
	Hits   []string `json:"hits,omitempty"`
}

// Resolve гарантирует валидный статус даже для отсутствующего слоя:
// всё, что не "danger", считается safe.
func (v *LayerVerdict) Resolve() LayerState {
	if v == nil || v.Status != string(StateDanger) {
		return StateSafe
	}
	return StateDanger
}

// LayerMap — вердикты слоев по ключу.
type LayerMap map[LayerKey]*LayerVerdict

// UnmarshalJSON разбирает слои по одному: битая запись слоя остается nil
// (Resolve даст safe) и не роняет разбор всего ответа.
func (m *LayerMap) UnmarshalJSON(data []byte) error {
	var raw map[LayerKey]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		*m = nil
		return nil
	}

	out := make(LayerMap, len(raw))
	for k, v := range raw {
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			out[k] = nil
			continue
		}
		var lv LayerVerdict
		if err := json.Unmarshal(v, &lv); err != nil {
			out[k] = nil
			continue
		}
		out[k] = &lv
	}
	*m = out
	return nil
}

// ThreatAnalysis — сводная оценка угрозы. Только для отображения.
type ThreatAnalysis struct {
	ThreatScore       int      `json:"threatScore"`
	MaxScore          int      `json:"maxScore"`
	Percentage        float64  `json:"percentage"`
	Confidence        string   `json:"confidence"`        // HIGH, MEDIUM, LOW
	RecommendedAction string   `json:"recommendedAction"` // BLOCK, REVIEW, ALLOW
	Breakdown         []string `json:"breakdown,omitempty"`
}

// Percent возвращает процент угрозы, вычисляя его, если шлюз его не прислал.
func (t *ThreatAnalysis) Percent() float64 {
	if t.Percentage != 0 || t.MaxScore <= 0 {
		return t.Percentage
	}
	return float64(t.ThreatScore) * 100 / float64(t.MaxScore)
}

// Severity: >= 50 высокий, >= 30 средний, иначе низкий.
func (t *ThreatAnalysis) Severity() string {
	switch {
	case t.ThreatScore >= 50:
		return "high"
	case t.ThreatScore >= 30:
		return "medium"
	default:
		return "low"
	}
}

// Summary — строка для лога.
func (t *ThreatAnalysis) Summary() string {
	return fmt.Sprintf("Threat Score: %d/%d (%s%%) - %s confidence",
		t.ThreatScore, t.MaxScore, strconv.FormatFloat(t.Percent(), 'f', -1, 64), t.Confidence)
}

// ScoreSample — метрики слоев, присланные шлюзом. nil означает "нет значения".
type ScoreSample struct {
	NCDScore *float64 `json:"ncdScore,omitempty"`
	LDFScore *float64 `json:"ldfScore,omitempty"`
}

// PromptRecord — промпт из внешней ленты. После получения не изменяется.
type PromptRecord struct {
	ID             int64           `json:"id"`
	Prompt         string          `json:"prompt"`
	Timestamp      FlexTime        `json:"timestamp"`
	Result         Verdict         `json:"result"`
	ThreatScore    int             `json:"threatScore"`
	Layers         LayerMap        `json:"layers,omitempty"`
	ThreatAnalysis *ThreatAnalysis `json:"threatAnalysis,omitempty"`
	Metrics        *ScoreSample    `json:"metrics,omitempty"`

	// Malformed — запись не разобралась целиком, известен только ID.
	// Такая запись двигает курсор, но не попадает в историю и не проигрывается.
	Malformed bool `json:"-"`
}

// FlexTime принимает как ISO-8601 строку, так и epoch в миллисекундах.
// Нераспознанный формат оставляет нулевое время: время только для отображения.
type FlexTime struct {
	time.Time
}

func (t *FlexTime) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		return nil
	}

	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
			t.Time = parsed
		}
		return nil
	}

	if ms, err := strconv.ParseFloat(raw, 64); err == nil {
		t.Time = time.UnixMilli(int64(ms)).UTC()
	}
	return nil
}

func (t FlexTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}
