package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWatchdogTouchBumpsLastSeen(t *testing.T) {
	j := newJob(model.NewJob("jid-1", model.JobTypeYouTube, model.Media{}))
	j.lastSeen = 0
	j.touch()
	assert.NotZero(t, j.lastSeen)
}

func TestWatchdogRunReturnsPromptlyWhenContextCanceled(t *testing.T) {
	j := newJob(model.NewJob("jid-1", model.JobTypeYouTube, model.Media{}))
	w := NewWatchdog(j, nil, 5*time.Minute, nil, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not exit promptly on canceled context")
	}
}
