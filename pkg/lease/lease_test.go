package lease

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCreateAndHeld(t *testing.T) {
	table := NewTable(50*time.Millisecond, nil)
	assert.True(t, table.Create("scanner-1"))
	assert.True(t, table.Held("scanner-1"))
	assert.Equal(t, 1, table.Count())

	// Recreating an existing lease fails.
	assert.False(t, table.Create("scanner-1"))
}

func TestRenewUnknownFails(t *testing.T) {
	table := NewTable(time.Second, nil)
	assert.False(t, table.Renew("never-created"))
}

func TestCancelRemovesWithoutFiringExpiry(t *testing.T) {
	var mu sync.Mutex
	fired := false
	table := NewTable(30*time.Millisecond, func(name string) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})
	table.Create("scanner-1")
	table.Cancel("scanner-1")
	assert.False(t, table.Held("scanner-1"))

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, fired)
}

func TestExpiryFiresAfterPeriod(t *testing.T) {
	done := make(chan string, 1)
	table := NewTable(20*time.Millisecond, func(name string) {
		done <- name
	})
	table.Create("scanner-7")

	select {
	case name := <-done:
		assert.Equal(t, "scanner-7", name)
	case <-time.After(2 * time.Second):
		t.Fatal("expiry callback never fired")
	}
	assert.False(t, table.Held("scanner-7"))
}

func TestRenewExtendsLease(t *testing.T) {
	fired := make(chan struct{}, 1)
	table := NewTable(60*time.Millisecond, func(name string) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	table.Create("scanner-2")

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		time.Sleep(15 * time.Millisecond)
		assert.True(t, table.Renew("scanner-2"))
	}

	select {
	case <-fired:
		t.Fatal("lease expired despite being renewed")
	default:
	}
}
