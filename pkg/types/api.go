package types

// InvalidateAPIRequest is the body of POST /internal/purge/invalidate
type InvalidateAPIRequest struct {
	Type        string   `json:"type"`
	Expressions []string `json:"expressions"`
}

// InvalidateAPIData is returned after invalidations were queued
type InvalidateAPIData struct {
	Type     string   `json:"type"`
	Queued   int      `json:"queued"`
	IDs      []string `json:"ids"`
	Rejected []string `json:"rejected,omitempty"`
}

// InvalidationRecord is the persisted view of a queued invalidation
type InvalidationRecord struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Expression string `json:"expression"`
	State      string `json:"state"`
	Attempts   int    `json:"attempts"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
	LastError  string `json:"last_error,omitempty"`
}
