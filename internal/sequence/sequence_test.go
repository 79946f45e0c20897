package sequence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SingleRunAppliesResult(t *testing.T) {
	s := New()

	got, err := Do(context.Background(), s, "op", func(ctx context.Context) (string, error) {
		return "result", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "result", got)
}

func TestDo_ErrorPropagates(t *testing.T) {
	s := New()
	boom := errors.New("boom")

	_, err := Do(context.Background(), s, "op", func(ctx context.Context) (string, error) {
		return "", boom
	})

	assert.ErrorIs(t, err, boom)
}

// Issuing A then B under the same key before A resolves must apply B's result
// and discard A's late resolution.
func TestDo_StaleRunIsSuperseded(t *testing.T) {
	s := New()

	aStarted := make(chan struct{})
	aRelease := make(chan struct{})

	var wg sync.WaitGroup
	var aErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, aErr = Do(context.Background(), s, "op", func(ctx context.Context) (string, error) {
			close(aStarted)
			<-aRelease
			return "A", nil
		})
	}()

	<-aStarted

	// B starts while A is in flight and resolves first.
	got, err := Do(context.Background(), s, "op", func(ctx context.Context) (string, error) {
		return "B", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "B", got)

	close(aRelease)
	wg.Wait()

	assert.ErrorIs(t, aErr, ErrSuperseded)
}

// Starting a new run cancels the previous run's context.
func TestBegin_CancelsPreviousRun(t *testing.T) {
	s := New()

	ctx1, commit1 := s.Begin(context.Background(), "op")
	_, _ = s.Begin(context.Background(), "op")

	select {
	case <-ctx1.Done():
	case <-time.After(time.Second):
		t.Fatal("previous run context was not canceled")
	}
	assert.False(t, commit1())
}

// A run aborted by a newer one reports ErrSuperseded, not the raw cancellation.
func TestDo_AbortByNewerRunIsSuperseded(t *testing.T) {
	s := New()

	started := make(chan struct{})
	var wg sync.WaitGroup
	var aErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, aErr = Do(context.Background(), s, "op", func(ctx context.Context) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		})
	}()

	<-started
	s.Abort("op")
	wg.Wait()

	assert.ErrorIs(t, aErr, ErrSuperseded)
}

// Cancellation coming from the caller's own context propagates as such.
func TestDo_CallerCancellationPropagates(t *testing.T) {
	s := New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, s, "op", func(runCtx context.Context) (string, error) {
		return "", runCtx.Err()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrSuperseded)
}

func TestDo_DifferentKeysDoNotInterfere(t *testing.T) {
	s := New()

	ctx1, commit1 := s.Begin(context.Background(), "a")
	_, commit2 := s.Begin(context.Background(), "b")

	assert.NoError(t, ctx1.Err())
	assert.True(t, commit1())
	assert.True(t, commit2())
}
