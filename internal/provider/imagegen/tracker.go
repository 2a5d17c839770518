package imagegen

import (
	"context"
	"time"

	"github.com/ashureev/nanostyle/internal/apperr"
	"github.com/ashureev/nanostyle/internal/telemetry"
)

// tracker follows one logical call across its HTTP attempts. Attempts run
// sequentially, so it needs no locking.
type tracker struct {
	op        string
	requestID string
	sessionID string

	attempt int
	started time.Time
}

type trackerKey struct{}

func withTracker(ctx context.Context, t *tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

func trackerFrom(ctx context.Context) *tracker {
	t, _ := ctx.Value(trackerKey{}).(*tracker)
	return t
}

func (t *tracker) begin(attempt int) {
	t.attempt = attempt
	t.started = time.Now()
}

// finish builds the telemetry record for the attempt that just ended.
func (t *tracker) finish(err error) telemetry.ProviderCall {
	call := telemetry.ProviderCall{
		Provider:  telemetry.ProviderNanoBanana,
		Operation: t.op,
		RequestID: t.requestID,
		SessionID: t.sessionID,
		Latency:   time.Since(t.started),
		Status:    telemetry.CallSuccess,
		Attempt:   t.attempt,
		At:        time.Now().UTC(),
	}
	if err != nil {
		code := apperr.CodeOf(err)
		call.ErrorCode = string(code)
		call.Status = telemetry.CallError
		if code == apperr.CodeProviderTimeout {
			call.Status = telemetry.CallTimeout
		}
	}
	return call
}
