package observability

import (
	"context"
	"net/http"
)

type trackerKey struct{}

// requestTracker carries values discovered deep in the handler chain back up
// to the request logger.
type requestTracker struct {
	principal string
	orderID   string
}

func withTracker(ctx context.Context, tracker *requestTracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, tracker)
}

func trackerFrom(r *http.Request) *requestTracker {
	if r == nil {
		return nil
	}
	tracker, _ := r.Context().Value(trackerKey{}).(*requestTracker)
	return tracker
}
