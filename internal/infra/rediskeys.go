package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "promptguard"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanRuns — итоги прогонов секвенсора (SAFE, BLOCKED, FAILED).
	RedisChanRuns = RedisNamespace + ":runs"
)
