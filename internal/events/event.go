package events

import "time"

// RunEvent — итог одного прогона секвенсора.
type RunEvent struct {
	ID          string    `json:"id"`                   // UUID прогона
	Source      string    `json:"source"`               // "user" или "feed"
	PromptID    int64     `json:"prompt_id,omitempty"`  // id из ленты, для user — 0
	Result      string    `json:"result"`               // "SAFE", "BLOCKED", "FAILED"
	BlockedAt   string    `json:"blocked_at,omitempty"` // Слой, на котором остановились
	ThreatScore int       `json:"threat_score"`
	StartedAt   time.Time `json:"started_at"`
	DurationMs  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
}
