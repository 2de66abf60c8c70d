package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStartup(maxAttempts int) *Startup {
	s := NewStartup(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}), maxAttempts)
	s.unit = time.Millisecond
	return s
}

func TestStartup_StartsDependenciesFirst(t *testing.T) {
	s := newTestStartup(1)
	var order []string

	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}

	s.AddDependency(&Dependency{Name: "http", Requires: []string{"database", "redis"}, StartFunc: record("http")})
	s.AddDependency(&Dependency{Name: "database", StartFunc: record("database")})
	s.AddDependency(&Dependency{Name: "redis", StartFunc: record("redis")})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"database", "redis", "http"}, order)
	assert.Equal(t, StartupStatusStarted, s.Status("http"))
}

func TestStartup_RetriesUntilSuccess(t *testing.T) {
	s := newTestStartup(3)
	calls := 0
	s.AddDependency(&Dependency{Name: "database", StartFunc: func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 3, calls)
}

func TestStartup_FailsAfterMaxAttempts(t *testing.T) {
	s := newTestStartup(2)
	s.AddDependency(&Dependency{Name: "database", StartFunc: func(context.Context) error {
		return errors.New("connection refused")
	}})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "startup failed after 2 attempts")
	assert.Equal(t, StartupStatusFailed, s.Status("database"))
}

func TestStartup_UnknownDependency(t *testing.T) {
	s := newTestStartup(1)
	s.AddDependency(&Dependency{Name: "http", Requires: []string{"missing"}})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown startup dependency 'missing'")
}

func TestStartup_StopsInReverseOrder(t *testing.T) {
	s := newTestStartup(1)
	var stopped []string

	stop := func(name string) func(context.Context) error {
		return func(context.Context) error {
			stopped = append(stopped, name)
			return nil
		}
	}

	s.AddDependency(&Dependency{Name: "database", StopFunc: stop("database")})
	s.AddDependency(&Dependency{Name: "kafka", StopFunc: stop("kafka")})
	s.AddDependency(&Dependency{Name: "http", Requires: []string{"database", "kafka"}, StopFunc: stop("http")})

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"http", "kafka", "database"}, stopped)
	assert.Equal(t, StartupStatusStopped, s.Status("database"))
}
