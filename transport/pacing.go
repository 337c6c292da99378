package transport

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// pacer gates each send within a tick.
type pacer interface {
	wait(ctx context.Context) error
}

// burstPacer sends as fast as the tick loop goes.
type burstPacer struct{}

func (burstPacer) wait(ctx context.Context) error {
	return nil
}

// smoothPacer spreads sends evenly over the second.
type smoothPacer struct {
	limiter *rate.Limiter
}

func (p *smoothPacer) wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

func newPacer(mode string, eps uint32) (pacer, error) {
	switch mode {
	case "", PacingBurst:
		return burstPacer{}, nil
	case PacingSmooth:
		return &smoothPacer{limiter: rate.NewLimiter(rate.Limit(eps), 1)}, nil
	default:
		return nil, fmt.Errorf("unknown pacing mode %q", mode)
	}
}
