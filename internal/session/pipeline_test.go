package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxline/assistant-ws/internal/collab"
)

func TestTextInputProducesQueuedThenFullText(t *testing.T) {
	reg, _ := newTestRegistry(t, nil, nil, nil)

	conn := &fakeConn{}
	rec := admitAndAuth(t, reg, conn, "validtoken")

	reg.HandleFrame(rec, frame(t, map[string]any{"type": "text-input", "text": "hello"}))

	queued := conn.sentOfType(TypeResponseQueued)
	require.Len(t, queued, 1)
	require.NotEmpty(t, queued[0].ResponseID)

	require.Eventually(t, func() bool {
		return len(conn.sentOfType(TypeFullText)) == 1
	}, time.Second, 5*time.Millisecond)

	full := conn.sentOfType(TypeFullText)[0]
	assert.Equal(t, "re: hello", full.Text)
	assert.Equal(t, queued[0].ResponseID, full.ResponseID)

	require.Eventually(t, func() bool {
		return rec.InFlightResponseID() == ""
	}, time.Second, 5*time.Millisecond)
}

func TestEmptyTextRejectedImmediately(t *testing.T) {
	reg, _ := newTestRegistry(t, nil, nil, nil)

	conn := &fakeConn{}
	rec := admitAndAuth(t, reg, conn, "validtoken")

	reg.HandleFrame(rec, frame(t, map[string]any{"type": "text-input", "text": "   "}))

	last, ok := conn.lastFrame()
	require.True(t, ok)
	assert.Equal(t, CodeEmptyText, last.Code)
	assert.Empty(t, conn.sentOfType(TypeResponseQueued))
	assert.Empty(t, rec.InFlightResponseID())
}

func TestInterruptSuppressesLateResult(t *testing.T) {
	release := make(chan struct{})
	responder := funcResponder(func(ctx context.Context, text string, p *collab.Principal) (string, error) {
		select {
		case <-release:
			return "late result", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	reg, _ := newTestRegistry(t, nil, responder, nil)

	conn := &fakeConn{}
	rec := admitAndAuth(t, reg, conn, "validtoken")

	reg.HandleFrame(rec, frame(t, map[string]any{"type": "text-input", "text": "hello"}))
	queued := conn.sentOfType(TypeResponseQueued)
	require.Len(t, queued, 1)

	reg.HandleFrame(rec, frame(t, map[string]any{"type": "interrupt"}))

	assert.Empty(t, rec.InFlightResponseID())
	acks := conn.sentOfType(TypeOutInterrupt)
	require.Len(t, acks, 1)
	assert.Equal(t, queued[0].ResponseID, acks[0].ResponseID)

	// Even if the collaborator later resolves, no full-text is delivered.
	close(release)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, conn.sentOfType(TypeFullText))
}

func TestSecondTextInputSupersedesFirst(t *testing.T) {
	firstStarted := make(chan struct{})
	responder := funcResponder(func(ctx context.Context, text string, p *collab.Principal) (string, error) {
		if text == "first" {
			close(firstStarted)
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "re: " + text, nil
	})

	reg, _ := newTestRegistry(t, nil, responder, nil)

	conn := &fakeConn{}
	rec := admitAndAuth(t, reg, conn, "validtoken")

	reg.HandleFrame(rec, frame(t, map[string]any{"type": "text-input", "text": "first"}))
	<-firstStarted
	reg.HandleFrame(rec, frame(t, map[string]any{"type": "text-input", "text": "second"}))

	queued := conn.sentOfType(TypeResponseQueued)
	require.Len(t, queued, 2)

	require.Eventually(t, func() bool {
		return len(conn.sentOfType(TypeFullText)) == 1
	}, time.Second, 5*time.Millisecond)

	full := conn.sentOfType(TypeFullText)[0]
	assert.Equal(t, "re: second", full.Text)
	assert.Equal(t, queued[1].ResponseID, full.ResponseID)
}

func TestGenerationTimeoutReported(t *testing.T) {
	responder := funcResponder(func(ctx context.Context, text string, p *collab.Principal) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	reg, _ := newTestRegistry(t, func(c *Config) {
		c.GenerationTimeout = 20 * time.Millisecond
	}, responder, nil)

	conn := &fakeConn{}
	rec := admitAndAuth(t, reg, conn, "validtoken")

	reg.HandleFrame(rec, frame(t, map[string]any{"type": "text-input", "text": "hello"}))

	require.Eventually(t, func() bool {
		return len(conn.sentOfType(TypeError)) == 1
	}, time.Second, 5*time.Millisecond)

	errFrame := conn.sentOfType(TypeError)[0]
	assert.Equal(t, CodeGenerationTimeout, errFrame.Code)
	assert.NotEmpty(t, errFrame.ResponseID)
	assert.Empty(t, rec.InFlightResponseID())
	// The connection is unaffected.
	assert.Equal(t, StateAuthenticated, rec.State())
}

func TestGenerationFailureReported(t *testing.T) {
	responder := funcResponder(func(ctx context.Context, text string, p *collab.Principal) (string, error) {
		return "", errors.New("model unavailable")
	})

	reg, _ := newTestRegistry(t, nil, responder, nil)

	conn := &fakeConn{}
	rec := admitAndAuth(t, reg, conn, "validtoken")

	reg.HandleFrame(rec, frame(t, map[string]any{"type": "text-input", "text": "hello"}))

	require.Eventually(t, func() bool {
		return len(conn.sentOfType(TypeError)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, CodeGenerationFailed, conn.sentOfType(TypeError)[0].Code)
	assert.Empty(t, rec.InFlightResponseID())
}

func TestAudioStageRunsForAudioPrincipal(t *testing.T) {
	synth := funcSynthesizer(func(ctx context.Context, text string, p *collab.Principal) (string, error) {
		return "https://cdn.example.com/audio/abc.mp3", nil
	})

	reg, _ := newTestRegistry(t, nil, nil, synth)

	conn := &fakeConn{}
	rec := admitAndAuth(t, reg, conn, "audiotoken")

	reg.HandleFrame(rec, frame(t, map[string]any{"type": "text-input", "text": "hello"}))

	require.Eventually(t, func() bool {
		return len(conn.sentOfType(TypeAudioURL)) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Len(t, conn.sentOfType(TypeFullText), 1)
	assert.Len(t, conn.sentOfType(TypeSynthesisStarted), 1)
	assert.Len(t, conn.sentOfType(TypeSynthesisComplete), 1)
	assert.Equal(t, "https://cdn.example.com/audio/abc.mp3", conn.sentOfType(TypeAudioURL)[0].AudioURL)
}

func TestAudioStageSkippedWithoutPreference(t *testing.T) {
	synthCalled := false
	synth := funcSynthesizer(func(ctx context.Context, text string, p *collab.Principal) (string, error) {
		synthCalled = true
		return "unused", nil
	})

	reg, _ := newTestRegistry(t, nil, nil, synth)

	conn := &fakeConn{}
	rec := admitAndAuth(t, reg, conn, "validtoken")

	reg.HandleFrame(rec, frame(t, map[string]any{"type": "text-input", "text": "hello"}))

	require.Eventually(t, func() bool {
		return len(conn.sentOfType(TypeFullText)) == 1
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return rec.InFlightResponseID() == ""
	}, time.Second, 5*time.Millisecond)

	assert.False(t, synthCalled)
	assert.Empty(t, conn.sentOfType(TypeSynthesisStarted))
}

func TestSynthesisFailureKeepsTextResult(t *testing.T) {
	synth := funcSynthesizer(func(ctx context.Context, text string, p *collab.Principal) (string, error) {
		return "", errors.New("voice worker down")
	})

	reg, _ := newTestRegistry(t, nil, nil, synth)

	conn := &fakeConn{}
	rec := admitAndAuth(t, reg, conn, "audiotoken")

	reg.HandleFrame(rec, frame(t, map[string]any{"type": "text-input", "text": "hello"}))

	require.Eventually(t, func() bool {
		return len(conn.sentOfType(TypeError)) == 1
	}, time.Second, 5*time.Millisecond)

	// Text result was delivered before the synthesis failure.
	assert.Len(t, conn.sentOfType(TypeFullText), 1)
	assert.Equal(t, CodeSynthesisFailed, conn.sentOfType(TypeError)[0].Code)
	assert.Empty(t, conn.sentOfType(TypeAudioURL))
}

func TestTeardownMidPipelineSuppressesDelivery(t *testing.T) {
	started := make(chan struct{})
	responder := funcResponder(func(ctx context.Context, text string, p *collab.Principal) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})

	reg, _ := newTestRegistry(t, nil, responder, nil)

	conn := &fakeConn{}
	rec := admitAndAuth(t, reg, conn, "validtoken")

	reg.HandleFrame(rec, frame(t, map[string]any{"type": "text-input", "text": "hello"}))
	<-started

	reg.Teardown(rec.ID, ReasonClientClosed)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, conn.sentOfType(TypeFullText))
	assert.Empty(t, conn.sentOfType(TypeError))
}
