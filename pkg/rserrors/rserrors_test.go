package rserrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemote(t *testing.T) {
	assert.Nil(t, Remote("open", nil))

	cause := errors.New("disk full")
	err := Remote("flush", cause)
	assert.EqualError(t, err, "flush: disk full")
	assert.True(t, errors.Is(err, cause))

	var re *RemoteException
	assert.True(t, errors.As(err, &re))
	assert.Equal(t, "flush", re.Op)
}

func TestRemoteWrapping(t *testing.T) {
	cause := ErrFilesystemUnavailable
	err := fmt.Errorf("probe failed: %w", Remote("stat", cause))
	assert.True(t, errors.Is(err, ErrFilesystemUnavailable))
}

func TestSentinelsDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotServingRegion,
		ErrUnknownScanner,
		ErrRegionServerRunning,
		ErrDroppedSnapshot,
		ErrFilesystemUnavailable,
		ErrServerNotRunning,
		ErrLeaseStillHeld,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.False(t, errors.Is(a, b), "sentinel %d should not match sentinel %d", i, j)
		}
	}
}
