package redis

import (
	"time"

	"quote-engine/internal/pricing"
)

// Session is what survives between requests: the configuration and the rate
// table it was built against. Results are never stored; they are recomputed
// on restore.
type Session struct {
	ID            string                       `json:"id"`
	Scheme        pricing.Scheme               `json:"scheme"`
	RateVersion   string                       `json:"rate_version"`
	Configuration pricing.ServiceConfiguration `json:"configuration"`
	UpdatedAt     time.Time                    `json:"updated_at"`
}
