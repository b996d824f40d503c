package chat

import (
	"time"

	"github.com/zhouzirui/talkbox/backend/internal/analysis/reply"
)

// Delay bounds how long the bot appears to type before replying.
type Delay struct {
	Min time.Duration
	Max time.Duration
}

// DefaultDelay is the one-to-two second typing pause.
var DefaultDelay = Delay{Min: time.Second, Max: 2 * time.Second}

// Pick draws a duration uniformly from [Min, Max). A collapsed or inverted
// range yields Min.
func (d Delay) Pick(rng reply.RandSource) time.Duration {
	if d.Min < 0 {
		d.Min = 0
	}
	if d.Max <= d.Min {
		return d.Min
	}
	return d.Min + time.Duration(rng.IntN(int(d.Max-d.Min)))
}
