package provider

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// marshalJSONString renders list-typed test fields the way pipeline
// variables expect them: as a JSON string.
func marshalJSONString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// spanBetween derives a duration from two provider-reported timestamps.
// Returns zero when either is missing or the pair is inconsistent.
func spanBetween(start, end *time.Time) time.Duration {
	if start == nil || end == nil {
		return 0
	}
	if d := end.Sub(*start); d > 0 {
		return d
	}
	return 0
}

func containsToken(s, token string) bool {
	return token != "" && strings.Contains(s, token)
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
