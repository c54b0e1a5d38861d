package timer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/zkrtos/kerrors"
)

type fakeLocker struct{ mu sync.Mutex }

func (f *fakeLocker) EnterCritical() { f.mu.Lock() }
func (f *fakeLocker) ExitCritical()  { f.mu.Unlock() }

func TestCreateRejectsInvalidParam(t *testing.T) {
	m := NewManager(&fakeLocker{}, 8)
	_, code := m.Create("t", 0, false, func(Handle, any) {}, nil)
	assert.Equal(t, kerrors.InvalidParam, code)

	_, code = m.Create("t", 5, false, nil, nil)
	assert.Equal(t, kerrors.InvalidParam, code)
}

func TestCreateRejectsWhenMaxTimersReached(t *testing.T) {
	m := NewManager(&fakeLocker{}, 1)
	_, code := m.Create("a", 5, false, func(Handle, any) {}, nil)
	require.True(t, code.OK())

	_, code = m.Create("b", 5, false, func(Handle, any) {}, nil)
	assert.Equal(t, kerrors.NotEnoughMemory, code)
}

func TestStartStopDestroyStateTransitions(t *testing.T) {
	m := NewManager(&fakeLocker{}, 8)
	h, _ := m.Create("t", 10, false, func(Handle, any) {}, nil)
	assert.False(t, m.Active(h))

	require.True(t, m.Start(h, 0).OK())
	assert.True(t, m.Active(h))

	require.True(t, m.Stop(h).OK())
	assert.False(t, m.Active(h))

	require.True(t, m.Destroy(h).OK())
	assert.Equal(t, kerrors.InvalidHandle, m.Stop(h))
}

func TestStartOnUnknownHandleIsInvalidHandle(t *testing.T) {
	m := NewManager(&fakeLocker{}, 8)
	assert.Equal(t, kerrors.InvalidHandle, m.Start(999, 0))
}

func TestRestartReschedulesFromNow(t *testing.T) {
	m := NewManager(&fakeLocker{}, 8)
	h, _ := m.Create("t", 10, false, func(Handle, any) {}, nil)
	require.True(t, m.Start(h, 0).OK())
	require.True(t, m.Start(h, 50).OK())

	var fired int
	m.all[h].callback = func(Handle, any) { fired++ }
	m.ProcessExpired(59)
	assert.Equal(t, 0, fired, "timer restarted at 50 with period 10 should not fire before 60")
	m.ProcessExpired(60)
	assert.Equal(t, 1, fired)
}

func TestProcessExpiredFiresAutoReloadAndRearms(t *testing.T) {
	m := NewManager(&fakeLocker{}, 8)
	var fireCount int
	h, _ := m.Create("t", 10, true, func(Handle, any) { fireCount++ }, nil)
	require.True(t, m.Start(h, 0).OK())

	m.ProcessExpired(10)
	assert.Equal(t, 1, fireCount)
	assert.True(t, m.Active(h), "auto-reload timer must stay armed")

	m.ProcessExpired(20)
	assert.Equal(t, 2, fireCount)
}

func TestProcessExpiredOneShotStopsAfterFiring(t *testing.T) {
	m := NewManager(&fakeLocker{}, 8)
	var fireCount int
	h, _ := m.Create("t", 10, false, func(Handle, any) { fireCount++ }, nil)
	require.True(t, m.Start(h, 0).OK())

	m.ProcessExpired(10)
	assert.Equal(t, 1, fireCount)
	assert.False(t, m.Active(h))

	m.ProcessExpired(20)
	assert.Equal(t, 1, fireCount, "a stopped one-shot timer must not fire again")
}

func TestProcessExpiredCallbackCanReenterManager(t *testing.T) {
	m := NewManager(&fakeLocker{}, 8)
	var reentered bool
	h, _ := m.Create("t", 10, false, func(id Handle, arg any) {
		reentered = m.Active(id) == false && m.Stop(id).OK()
	}, nil)
	require.True(t, m.Start(h, 0).OK())

	assert.NotPanics(t, func() { m.ProcessExpired(10) })
	assert.True(t, reentered)
}

func TestPendingOrderIsByWakeUpTime(t *testing.T) {
	m := NewManager(&fakeLocker{}, 8)
	var order []string
	cb := func(id Handle, arg any) { order = append(order, arg.(string)) }

	late, _ := m.Create("late", 100, false, cb, "late")
	early, _ := m.Create("early", 10, false, cb, "early")
	require.True(t, m.Start(late, 0).OK())
	require.True(t, m.Start(early, 0).OK())

	m.ProcessExpired(10)
	m.ProcessExpired(100)
	assert.Equal(t, []string{"early", "late"}, order)
}
