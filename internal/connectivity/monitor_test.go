package connectivity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct{ up atomic.Bool }

func (f *fakeProber) Ping(context.Context) error {
	if f.up.Load() {
		return nil
	}
	return errors.New("unreachable")
}

func TestDebounceRequiresConsecutiveSuccesses(t *testing.T) {
	m := NewMonitor(&fakeProber{}, time.Minute, 2)
	sub := m.Subscribe()

	assert.Equal(t, Offline, m.State())

	m.Observe(true)
	assert.Equal(t, Offline, m.State(), "one success must not flip online")

	m.Observe(true)
	assert.Equal(t, Online, m.State())

	select {
	case st := <-sub:
		assert.Equal(t, Online, st)
	default:
		t.Fatal("expected one online transition")
	}

	// Steady online emits nothing further.
	m.Observe(true)
	select {
	case <-sub:
		t.Fatal("steady state must not emit")
	default:
	}
}

func TestSingleFailureFlipsOffline(t *testing.T) {
	m := NewMonitor(&fakeProber{}, time.Minute, 2)
	sub := m.Subscribe()

	m.Observe(true)
	m.Observe(true)
	require.Equal(t, Online, m.State())
	<-sub

	m.Observe(false)
	assert.Equal(t, Offline, m.State())
	select {
	case st := <-sub:
		assert.Equal(t, Offline, st)
	default:
		t.Fatal("expected an offline transition")
	}
}

func TestFailureResetsSuccessStreak(t *testing.T) {
	m := NewMonitor(&fakeProber{}, time.Minute, 2)

	m.Observe(true)
	m.Observe(false)
	m.Observe(true)
	assert.Equal(t, Offline, m.State(), "streak must restart after a failure")

	m.Observe(true)
	assert.Equal(t, Online, m.State())
}

func TestRunProbesImmediately(t *testing.T) {
	p := &fakeProber{}
	p.up.Store(true)
	m := NewMonitor(p, 10*time.Millisecond, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, m.Online, time.Second, 5*time.Millisecond)

	p.up.Store(false)
	require.Eventually(t, func() bool { return !m.Online() }, time.Second, 5*time.Millisecond)
}
