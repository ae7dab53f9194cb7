package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismcast/prismcast-go/internal/config"
	"github.com/prismcast/prismcast-go/internal/models"
)

type fakeDriver struct {
	mu         sync.Mutex
	calls      []string
	failFinish int
}

func (f *fakeDriver) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeDriver) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDriver) OpenSession(_ context.Context, _ time.Time) (*models.MarketSession, error) {
	f.record("open")
	return &models.MarketSession{}, nil
}

func (f *fakeDriver) CloseSession(_ context.Context, _ time.Time) error {
	f.record("close")
	return nil
}

func (f *fakeDriver) LaunchSession(_ context.Context, _ time.Time) error {
	f.record("launch")
	return nil
}

func (f *fakeDriver) FinishSessions(_ context.Context) error {
	f.mu.Lock()
	fail := f.failFinish > 0
	if fail {
		f.failFinish--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("transient store failure")
	}
	f.record("finish")
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func marketFixture() config.MarketConfig {
	return config.MarketConfig{
		Timezone:           "Europe/Madrid",
		OpenTime:           "07:00",
		GateClosureTime:    "10:30",
		LaunchTime:         "12:00",
		FinishPollInterval: "1h",
	}
}

func findJob(t *testing.T, s *Scheduler, name string) job {
	t.Helper()
	for _, j := range s.jobs {
		if j.name == name {
			return j
		}
	}
	t.Fatalf("job %s not registered", name)
	return job{}
}

func TestNew_RegistersJobs(t *testing.T) {
	s, err := New(&fakeDriver{}, marketFixture(), quietLogger())
	require.NoError(t, err)

	require.Len(t, s.jobs, 4)
	assert.Equal(t, "0 7 * * *", findJob(t, s, "session-open").spec)
	assert.Equal(t, "30 10 * * *", findJob(t, s, "gate-closure").spec)
	assert.Equal(t, "0 12 * * *", findJob(t, s, "session-launch").spec)
	assert.Equal(t, "@every 1h", findJob(t, s, "session-finish").spec)
	assert.Len(t, s.cron.Entries(), 4)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	bad := marketFixture()
	bad.OpenTime = "7am"
	_, err := New(&fakeDriver{}, bad, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open_time")

	bad = marketFixture()
	bad.Timezone = "Mars/Olympus"
	_, err = New(&fakeDriver{}, bad, quietLogger())
	require.Error(t, err)

	bad = marketFixture()
	bad.FinishPollInterval = "hourly"
	_, err = New(&fakeDriver{}, bad, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session-finish")
}

func TestJobs_DriveSessionLifecycle(t *testing.T) {
	driver := &fakeDriver{}
	s, err := New(driver, marketFixture(), quietLogger())
	require.NoError(t, err)

	ctx := context.Background()
	for _, name := range []string{"session-open", "gate-closure", "session-launch", "session-finish"} {
		require.NoError(t, findJob(t, s, name).run(ctx))
	}
	assert.Equal(t, []string{"open", "close", "launch", "finish"}, driver.recorded())
}

func TestRunJob_RetriesUntilSuccess(t *testing.T) {
	driver := &fakeDriver{failFinish: 2}
	s, err := New(driver, marketFixture(), quietLogger())
	require.NoError(t, err)
	s.retryDelay = time.Millisecond

	s.runJob(findJob(t, s, "session-finish"))

	// Two failed attempts, then the third lands.
	assert.Equal(t, []string{"finish"}, driver.recorded())
	assert.Zero(t, driver.failFinish)
}

func TestRunJob_GivesUpAfterRetries(t *testing.T) {
	driver := &fakeDriver{failFinish: 10}
	s, err := New(driver, marketFixture(), quietLogger())
	require.NoError(t, err)
	s.retryDelay = time.Millisecond

	s.runJob(findJob(t, s, "session-finish"))

	assert.Empty(t, driver.recorded())
	assert.Equal(t, 7, driver.failFinish, "three attempts consumed")
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := New(&fakeDriver{}, marketFixture(), quietLogger())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		s.Start()
		s.Stop()
	})
}
