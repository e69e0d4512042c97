package browser

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"scrapeflow/internal/pkg/errorsx"
	"scrapeflow/internal/pkg/logger"
	"scrapeflow/internal/pkg/retry"

	"go.uber.org/zap"
)

// RecoveryController wraps a session with health verification and a bounded
// re-initialization procedure. One controller serves exactly one task
// execution attempt at a time; a site module asks EnsureHealthy before any
// operation sensitive to session staleness.
type RecoveryController struct {
	factory        Factory
	targetURL      string
	expectedHost   string
	navMaxAttempts int
	navBaseDelay   time.Duration
	logger         *logger.Logger

	mu        sync.Mutex
	session   Session
	recovered bool
}

// NewRecoveryController creates a controller for the given target URL
func NewRecoveryController(factory Factory, targetURL string, navMaxAttempts int, log *logger.Logger) (*RecoveryController, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil || parsed.Host == "" {
		return nil, errorsx.WithKind(errorsx.KindConfig,
			errorsx.WrapPermanent(fmt.Errorf("invalid target URL %q", targetURL)))
	}
	if navMaxAttempts <= 0 {
		navMaxAttempts = 3
	}
	return &RecoveryController{
		factory:        factory,
		targetURL:      targetURL,
		expectedHost:   parsed.Host,
		navMaxAttempts: navMaxAttempts,
		navBaseDelay:   time.Second,
		logger:         log,
	}, nil
}

// Connect establishes the initial session and navigates to the target URL
func (rc *RecoveryController) Connect(ctx context.Context) error {
	session, err := rc.factory(ctx)
	if err != nil {
		return errorsx.WithKind(errorsx.KindSession, errorsx.WrapRecoverable(err))
	}

	rc.mu.Lock()
	rc.session = session
	rc.mu.Unlock()

	if err := rc.NavigateWithRetry(ctx, rc.targetURL); err != nil {
		return err
	}
	if !rc.HealthCheck(ctx) {
		return errorsx.WithKind(errorsx.KindSession,
			errorsx.WrapRecoverable(fmt.Errorf("session unhealthy after connect")))
	}
	return nil
}

// Session returns the current underlying session
func (rc *RecoveryController) Session() Session {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.session
}

// HealthCheck runs three cheap probes: the current URL is readable, a basic
// DOM anchor exists, and the page host matches the expected target domain
func (rc *RecoveryController) HealthCheck(ctx context.Context) bool {
	session := rc.Session()
	if session == nil {
		return false
	}

	current, err := session.CurrentURL()
	if err != nil {
		rc.logger.Debug("Health check: current URL unreadable", zap.Error(err))
		return false
	}

	if _, err := session.FindElement("body"); err != nil {
		rc.logger.Debug("Health check: body element missing", zap.Error(err))
		return false
	}

	parsed, err := url.Parse(current)
	if err != nil || parsed.Host != rc.expectedHost {
		rc.logger.Warn("Health check: host mismatch",
			zap.String("current", current),
			zap.String("expected_host", rc.expectedHost),
		)
		return false
	}

	return true
}

// EnsureHealthy verifies the session and recovers it once if needed. A
// second consecutive failure within the same task attempt is fatal rather
// than retried forever.
func (rc *RecoveryController) EnsureHealthy(ctx context.Context) bool {
	if rc.HealthCheck(ctx) {
		return true
	}

	rc.mu.Lock()
	alreadyRecovered := rc.recovered
	rc.recovered = true
	rc.mu.Unlock()

	if alreadyRecovered {
		rc.logger.Warn("Session unhealthy after prior recovery, giving up",
			zap.String("target", rc.targetURL))
		return false
	}

	rc.logger.Warn("Session unhealthy, attempting recovery",
		zap.String("target", rc.targetURL))

	if !rc.Recover(ctx) {
		return false
	}

	// A fresh healthy session restores the recovery budget for the
	// remaining call sites of this attempt
	rc.mu.Lock()
	rc.recovered = false
	rc.mu.Unlock()
	return true
}

// Recover tears down the current session, builds a fresh one, and
// re-navigates to the original target. Returns true only when the fresh
// session passes the health check.
func (rc *RecoveryController) Recover(ctx context.Context) bool {
	rc.mu.Lock()
	old := rc.session
	rc.session = nil
	rc.mu.Unlock()

	if old != nil {
		// Teardown errors on a dead session carry no information
		_ = old.Close()
	}

	fresh, err := rc.factory(ctx)
	if err != nil {
		rc.logger.Error("Session recovery: factory failed", zap.Error(err))
		return false
	}

	rc.mu.Lock()
	rc.session = fresh
	rc.mu.Unlock()

	if err := rc.NavigateWithRetry(ctx, rc.targetURL); err != nil {
		rc.logger.Error("Session recovery: navigation failed", zap.Error(err))
		return false
	}

	if !rc.HealthCheck(ctx) {
		rc.logger.Error("Session recovery: fresh session unhealthy")
		return false
	}

	rc.logger.Info("Session recovered", zap.String("target", rc.targetURL))
	return true
}

// NavigateWithRetry attempts navigation with linear backoff (1s, 2s, 3s)
// and gives up after the configured number of attempts
func (rc *RecoveryController) NavigateWithRetry(ctx context.Context, target string) error {
	policy := retry.Policy{
		Strategy:    retry.StrategyLinear,
		BaseDelay:   rc.navBaseDelay,
		MaxAttempts: rc.navMaxAttempts,
	}

	_, err := retry.Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		session := rc.Session()
		if session == nil {
			return struct{}{}, errorsx.WithKind(errorsx.KindSession,
				errorsx.WrapRecoverable(fmt.Errorf("no session")))
		}
		return struct{}{}, session.Navigate(ctx, target)
	}, errorsx.IsRecoverable)

	if err != nil {
		return errorsx.WithKind(errorsx.KindNavigation,
			fmt.Errorf("navigation to %s failed after %d attempts: %w", target, rc.navMaxAttempts, err))
	}
	return nil
}

// ResetAttempt restores the recovery budget at the start of a task attempt
func (rc *RecoveryController) ResetAttempt() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.recovered = false
}

// Close releases the underlying session
func (rc *RecoveryController) Close() error {
	rc.mu.Lock()
	session := rc.session
	rc.session = nil
	rc.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}
