package enginestage

import (
	"testing"

	"pkg.world.dev/ensemble/assert"
)

func TestStartsAtInit(t *testing.T) {
	m := NewManager()
	assert.Equal(t, Init, m.Current())
}

func TestCompareAndSwap(t *testing.T) {
	m := NewManager()
	ok := m.CompareAndSwap(ShutDown, ShutDown)
	assert.Check(t, !ok, "swap from the wrong stage should fail")

	ok = m.CompareAndSwap(Init, Starting)
	assert.Check(t, ok, "compare and swap should succeed with correct old value")
	assert.Equal(t, Starting, m.Current())
}

func TestOnlyOneCompareAndSwapSuccess(t *testing.T) {
	successCh := make(chan bool)
	m := NewManager()

	for i := 0; i < 10; i++ {
		go func() {
			successCh <- m.CompareAndSwap(Init, ShuttingDown)
		}()
	}

	successCount := 0
	for i := 0; i < 10; i++ {
		if <-successCh {
			successCount++
		}
	}
	assert.Equal(t, 1, successCount)
}

func TestNotifyOnStage(t *testing.T) {
	m := NewManager()
	done := m.NotifyOnStage(ShutDown)
	select {
	case <-done:
		t.Fatal("notified before the stage was reached")
	default:
	}

	m.Store(Running)
	m.Store(ShutDown)
	<-done
	<-m.NotifyOnStage(ShutDown)
}
