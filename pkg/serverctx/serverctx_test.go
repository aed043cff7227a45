package serverctx

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/shardkeep/regiond/pkg/config"
	"github.com/shardkeep/regiond/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestRequestStopCancelsContext(t *testing.T) {
	sc := New(context.Background(), &config.Config{}, &types.ServerIdentity{}, nil)
	assert.False(t, sc.StopRequested())

	sc.RequestStop()
	assert.True(t, sc.StopRequested())

	select {
	case <-sc.Ctx.Done():
	default:
		t.Fatal("context should be cancelled after RequestStop")
	}
}

func TestAbortFiresHandlerOnce(t *testing.T) {
	var calls int32
	var gotReason error
	sc := New(context.Background(), &config.Config{}, &types.ServerIdentity{}, func(reason error) {
		atomic.AddInt32(&calls, 1)
		gotReason = reason
	})

	reason := errors.New("disk unavailable")
	sc.Abort(reason)
	sc.Abort(errors.New("second call ignored"))

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, reason, gotReason)
	assert.True(t, sc.Aborting())
	assert.True(t, sc.StopRequested())
}

func TestQuiescedToggle(t *testing.T) {
	sc := New(context.Background(), &config.Config{}, &types.ServerIdentity{}, nil)
	assert.False(t, sc.Quiesced())
	sc.SetQuiesced()
	assert.True(t, sc.Quiesced())
}
