package api

import "context"

//go:generate mockgen -destination=mocks/mock_readiness.go -package=mocks -source=readiness.go ReadinessChecker

// ReadinessChecker reports whether the server may accept traffic.
type ReadinessChecker interface {
	// CheckReadiness returns nil once startup has completed.
	CheckReadiness(ctx context.Context) error
}
