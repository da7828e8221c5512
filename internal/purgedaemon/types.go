package purgedaemon

// StatusResponse is the response for GET /status endpoint
type StatusResponse struct {
	Daemon   DaemonStatus           `json:"daemon"`
	Purger   PurgerStatus           `json:"purger"`
	Queues   map[string]QueueStatus `json:"queues"` // Keyed by invalidation type
	Capacity CapacityStatus         `json:"capacity"`
}

// DaemonStatus represents daemon health and uptime information
type DaemonStatus struct {
	DaemonID        string `json:"daemon_id"`
	UptimeSeconds   int    `json:"uptime_seconds"`
	LastTick        string `json:"last_tick"` // ISO 8601 timestamp
	SchedulerPaused bool   `json:"scheduler_paused"`
	RedisHealthy    bool   `json:"redis_healthy"`
}

// PurgerStatus describes the purger the daemon dispatches through
type PurgerStatus struct {
	Label string   `json:"label"`
	Types []string `json:"types"`
}

// CapacityStatus is the purger's throughput guidance
type CapacityStatus struct {
	IdealConditionsLimit int     `json:"ideal_conditions_limit"`
	CooldownSeconds      float64 `json:"cooldown_seconds"`
	TimeHintSeconds      float64 `json:"time_hint_seconds"`
	RuntimeMeasurement   bool    `json:"runtime_measurement"`
	CooldownUntil        string  `json:"cooldown_until,omitempty"`
}

// QueueStatus represents the queue of one invalidation type
type QueueStatus struct {
	Total  int64 `json:"total"`   // Total ids in ZSET
	DueNow int64 `json:"due_now"` // Ids with score <= now
}
