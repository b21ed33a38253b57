package syncer

import (
	"time"

	"github.com/skylinks/skylinks/api/links"
	"github.com/skylinks/skylinks/atproto/syntax"
)

type Config struct {
	Enabled bool

	// Account whose repo links are published to. Must have a stored session.
	ServiceDID syntax.DID

	MinScore     int64
	BatchSize    int
	Interval     time.Duration
	InitialDelay time.Duration

	// Record collection written to
	Collection syntax.NSID
}

func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MinScore:     50,
		BatchSize:    20,
		Interval:     60 * time.Second,
		InitialDelay: 5 * time.Second,
		Collection:   links.LinkNSID,
	}
}
