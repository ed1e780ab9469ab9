package domain

// AnalyzeRequest — тело POST /analyze.
type AnalyzeRequest struct {
	Prompt string `json:"prompt"`
}

// Counters — серверные счетчики шлюза.
type Counters struct {
	TotalScanned *int64 `json:"totalScanned,omitempty"`
	BlockedCount *int64 `json:"blockedCount,omitempty"`
}

// Performance — показатели хоста шлюза. Пустые поля не перезаписывают прошлые значения.
type Performance struct {
	CPUSpeed      *float64 `json:"cpuSpeed,omitempty"`
	CPUThroughput *float64 `json:"cpuThroughput,omitempty"`
	CPUCores      *int     `json:"cpuCores,omitempty"`
}

// AnalyzeResponse — полный вердикт шлюза плюс ответ LLM.
type AnalyzeResponse struct {
	Result         Verdict         `json:"result"`
	Layers         LayerMap        `json:"layers"`
	ThreatAnalysis *ThreatAnalysis `json:"threatAnalysis,omitempty"`
	Metrics        *ScoreSample    `json:"metrics,omitempty"`
	Counters       *Counters       `json:"counters,omitempty"`
	Performance    *Performance    `json:"performance,omitempty"`
	LLMResponse    string          `json:"llmResponse,omitempty"`
	Error          string          `json:"error,omitempty"`
}
