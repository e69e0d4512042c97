package browser

import (
	"context"
	"errors"
	"sync"
	"testing"

	"scrapeflow/internal/pkg/errorsx"
	"scrapeflow/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession simulates a session whose health can be scripted per call
type fakeSession struct {
	mu          sync.Mutex
	current     string
	navErrs     []error // consumed per Navigate call, nil entries succeed
	findErrs    []error // consumed per FindElement call
	closed      bool
	closeCalled int
}

func (f *fakeSession) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.navErrs) > 0 {
		err := f.navErrs[0]
		f.navErrs = f.navErrs[1:]
		if err != nil {
			return err
		}
	}
	f.current = url
	return nil
}

func (f *fakeSession) CurrentURL() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == "" {
		return "", errorsx.WrapRecoverable(errors.New("no page"))
	}
	return f.current, nil
}

func (f *fakeSession) FindElement(selector string) (Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.findErrs) > 0 {
		err := f.findErrs[0]
		f.findErrs = f.findErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return fakeElement{}, nil
}

func (f *fakeSession) FindElements(selector string) ([]Element, error) {
	return []Element{fakeElement{}}, nil
}

func (f *fakeSession) Click(ctx context.Context, selector string) error { return nil }

func (f *fakeSession) FillInput(selector, value string) error { return nil }

func (f *fakeSession) SubmitForm(ctx context.Context, selector string) error { return nil }

func (f *fakeSession) DownloadFile(ctx context.Context, url, path string) (*DownloadResult, error) {
	return &DownloadResult{URL: url, Path: path}, nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCalled++
	return nil
}

type fakeElement struct{}

func (fakeElement) Text() string               { return "ok" }
func (fakeElement) HTML() string               { return "<body>ok</body>" }
func (fakeElement) Attr(string) (string, bool) { return "", false }

// scriptedFactory returns pre-built sessions in order
type scriptedFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
	errs     []error
	created  int
}

func (sf *scriptedFactory) factory(ctx context.Context) (Session, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if len(sf.errs) > 0 {
		err := sf.errs[0]
		sf.errs = sf.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if sf.created >= len(sf.sessions) {
		return nil, errors.New("factory exhausted")
	}
	s := sf.sessions[sf.created]
	sf.created++
	return s, nil
}

const testTarget = "https://example.com/listing"

func TestRecoveryControllerRejectsInvalidURL(t *testing.T) {
	sf := &scriptedFactory{}
	_, err := NewRecoveryController(sf.factory, "not a url", 3, logger.NewNop())
	require.Error(t, err)
	assert.True(t, errorsx.IsPermanent(err))
	assert.Equal(t, errorsx.KindConfig, errorsx.KindOf(err))
}

func TestRecoveryControllerConnect(t *testing.T) {
	session := &fakeSession{}
	sf := &scriptedFactory{sessions: []*fakeSession{session}}

	rc, err := NewRecoveryController(sf.factory, testTarget, 3, logger.NewNop())
	require.NoError(t, err)

	require.NoError(t, rc.Connect(context.Background()))
	assert.True(t, rc.HealthCheck(context.Background()))
	assert.Equal(t, 1, sf.created)
}

func TestHealthCheckFailsOnHostMismatch(t *testing.T) {
	session := &fakeSession{current: "https://attacker.test/login"}
	sf := &scriptedFactory{sessions: []*fakeSession{session}}

	rc, err := NewRecoveryController(sf.factory, testTarget, 3, logger.NewNop())
	require.NoError(t, err)

	// Install the session without navigating so the scripted URL sticks
	rc.mu.Lock()
	rc.session = session
	rc.mu.Unlock()

	assert.False(t, rc.HealthCheck(context.Background()))
}

func TestHealthCheckFailsWithoutBody(t *testing.T) {
	session := &fakeSession{
		current:  testTarget,
		findErrs: []error{errors.New("no body element")},
	}
	sf := &scriptedFactory{sessions: []*fakeSession{session}}

	rc, err := NewRecoveryController(sf.factory, testTarget, 3, logger.NewNop())
	require.NoError(t, err)
	rc.mu.Lock()
	rc.session = session
	rc.mu.Unlock()

	assert.False(t, rc.HealthCheck(context.Background()))
}

func TestEnsureHealthyRecoversOnce(t *testing.T) {
	// First session loses its page; the replacement is healthy
	sick := &fakeSession{}
	fresh := &fakeSession{}
	sf := &scriptedFactory{sessions: []*fakeSession{sick, fresh}}

	rc, err := NewRecoveryController(sf.factory, testTarget, 3, logger.NewNop())
	require.NoError(t, err)
	rc.mu.Lock()
	rc.session = sick
	rc.mu.Unlock()

	// sick has no current URL, so the health check fails and recovery
	// builds the fresh session
	require.True(t, rc.EnsureHealthy(context.Background()))
	assert.Equal(t, 1, sf.created)
	assert.True(t, sick.closed, "unhealthy session must be torn down")
	assert.Same(t, fresh, rc.Session())
}

func TestEnsureHealthyGivesUpAfterFailedRecovery(t *testing.T) {
	sick := &fakeSession{}
	sf := &scriptedFactory{
		sessions: []*fakeSession{sick},
		errs:     []error{nil, errors.New("browser gone")},
	}

	rc, err := NewRecoveryController(sf.factory, testTarget, 3, logger.NewNop())
	require.NoError(t, err)
	rc.mu.Lock()
	rc.session = sick
	rc.mu.Unlock()

	// Recovery fails because the factory errors; the attempt budget stays
	// consumed so the next call gives up immediately
	assert.False(t, rc.EnsureHealthy(context.Background()))
	assert.False(t, rc.EnsureHealthy(context.Background()))
}

func TestEnsureHealthyBudgetResetsAfterSuccess(t *testing.T) {
	sickA := &fakeSession{}
	freshA := &fakeSession{}
	sickB := &fakeSession{} // freshA degrades later in the attempt
	sf := &scriptedFactory{sessions: []*fakeSession{freshA, sickB}}

	rc, err := NewRecoveryController(sf.factory, testTarget, 3, logger.NewNop())
	require.NoError(t, err)
	rc.mu.Lock()
	rc.session = sickA
	rc.mu.Unlock()

	require.True(t, rc.EnsureHealthy(context.Background()))

	// Break the recovered session; a later call site may recover again
	// because the prior recovery succeeded
	freshA.mu.Lock()
	freshA.current = ""
	freshA.mu.Unlock()

	require.True(t, rc.EnsureHealthy(context.Background()))
	assert.Equal(t, 2, sf.created)
}

func TestNavigateWithRetryStopsOnPermanentError(t *testing.T) {
	session := &fakeSession{
		navErrs: []error{errorsx.WrapPermanent(errors.New("404 not found"))},
	}
	sf := &scriptedFactory{sessions: []*fakeSession{session}}

	rc, err := NewRecoveryController(sf.factory, testTarget, 3, logger.NewNop())
	require.NoError(t, err)
	rc.mu.Lock()
	rc.session = session
	rc.mu.Unlock()

	err = rc.NavigateWithRetry(context.Background(), testTarget)
	require.Error(t, err)
	assert.Equal(t, errorsx.KindNavigation, errorsx.KindOf(err))
	// The permanent cause stays visible through the wrapping
	assert.True(t, errorsx.IsPermanent(err))
}

func TestRecoveryControllerClose(t *testing.T) {
	session := &fakeSession{}
	sf := &scriptedFactory{sessions: []*fakeSession{session}}

	rc, err := NewRecoveryController(sf.factory, testTarget, 3, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, rc.Connect(context.Background()))

	require.NoError(t, rc.Close())
	assert.True(t, session.closed)
	assert.Nil(t, rc.Session())

	// Close on a closed controller is harmless
	require.NoError(t, rc.Close())
}
