package domain

// PipelineStats — агрегаты для дашборда Query API
type PipelineStats struct {
	Activity ActivityStats `json:"activity"` // Нагрузка и трафик
	Outcomes OutcomeStats  `json:"outcomes"` // Разбивка по исходам
	Quality  QualityStats  `json:"quality"`  // SLO/SLI (Latency)
}

type ActivityStats struct {
	TotalEvents   int64   `json:"total_events"`
	EventsPerHour float64 `json:"events_per_hour"`
	PendingReview int64   `json:"pending_review"`
}

type OutcomeStats struct {
	ByState    map[string]int64 `json:"by_state"`
	Blocked    int64            `json:"blocked"`
	Approved   int64            `json:"approved"`
	BlockRatio float64          `json:"block_ratio"`
	Degraded   int64            `json:"degraded"`
}

type QualityStats struct {
	P95LatencyMs float64 `json:"p95_latency_ms"` // submission -> терминальное состояние
}
