package domain

import "time"

// LogSeverity — тег записи лога дашборда.
type LogSeverity string

const (
	LogInfo    LogSeverity = "info"
	LogSuccess LogSeverity = "success"
	LogError   LogSeverity = "error"
	LogSystem  LogSeverity = "system"
)

type LogEntry struct {
	Time     time.Time   `json:"time"`
	Message  string      `json:"msg"`
	Severity LogSeverity `json:"type"`
}

// Metrics — счетчики и последние оценки, показываемые на дашборде.
// Счетчики не убывают, оценки и производительность — last-write-wins.
type Metrics struct {
	NCDScore      float64 `json:"ncdScore"`
	LDFScore      float64 `json:"ldfScore"`
	TotalScanned  int64   `json:"totalScanned"`
	BlockedCount  int64   `json:"blockedCount"`
	CPUSpeed      float64 `json:"cpuSpeed"`
	CPUThroughput float64 `json:"cpuThroughput"`
	CPUCores      int     `json:"cpuCores"`
}

// LayerStatusMap — текущее визуальное состояние каждого слоя.
type LayerStatusMap map[LayerKey]LayerState

// IdleLayers возвращает карту, где все слои в idle.
func IdleLayers() LayerStatusMap {
	m := make(LayerStatusMap, len(PipelineOrder))
	for _, k := range PipelineOrder {
		m[k] = StateIdle
	}
	return m
}

// RunSource — кто инициировал прогон.
type RunSource string

const (
	SourceUser RunSource = "user"
	SourceFeed RunSource = "feed"
)

// Snapshot — консистентный срез состояния дашборда для отдачи наружу.
type Snapshot struct {
	Processing     bool            `json:"processing"`
	Phase          string          `json:"phase"`
	CurrentLayer   LayerKey        `json:"currentLayer,omitempty"`
	Result         Verdict         `json:"result,omitempty"`
	LayerStatus    LayerStatusMap  `json:"layerStatus"`
	Logs           []LogEntry      `json:"logs"`
	Metrics        Metrics         `json:"metrics"`
	ThreatAnalysis *ThreatAnalysis `json:"threatAnalysis,omitempty"`
	Layers         LayerMap        `json:"layers,omitempty"`
	Prompt         string          `json:"prompt,omitempty"`
	LLMResponse    string          `json:"llmResponse,omitempty"`
	LLMError       string          `json:"llmError,omitempty"`
}
