package video

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	analysis "github.com/zhouzirui/mindscreen/backend/internal/analysis/emotion"
	"github.com/zhouzirui/mindscreen/backend/internal/service/emotion"
)

type scriptedClassifier struct {
	mu     sync.Mutex
	labels []analysis.Label
	err    error
	calls  int
}

func (c *scriptedClassifier) Classify(_ context.Context, frame []byte) (emotion.Detection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := jpeg.Decode(bytes.NewReader(frame)); err != nil {
		return emotion.Detection{}, err
	}
	c.calls++
	if c.err != nil {
		return emotion.Detection{}, c.err
	}
	if len(c.labels) == 0 {
		return emotion.Detection{Label: analysis.Neutral}, nil
	}
	label := c.labels[0]
	c.labels = c.labels[1:]
	return emotion.Detection{Label: label, Faces: 1}, nil
}

func pngFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestProcessFrameScoresFromTable(t *testing.T) {
	for _, label := range analysis.Labels {
		t.Run(string(label), func(t *testing.T) {
			agg := NewAggregator(&scriptedClassifier{labels: []analysis.Label{label}}, Config{})

			result := agg.ProcessFrame(context.Background(), pngFrame(t, 8, 8), "s1")
			require.False(t, result.Failed(), result.Error)
			assert.Equal(t, string(label), result.Emotion)
			assert.Equal(t, analysis.Score(label), result.Score)
			assert.False(t, result.Timestamp.IsZero())
		})
	}
}

func TestProcessFrameInvalidData(t *testing.T) {
	classifier := &scriptedClassifier{}
	agg := NewAggregator(classifier, Config{})

	result := agg.ProcessFrame(context.Background(), []byte("not an image"), "s1")
	assert.Equal(t, "Invalid frame data", result.Error)
	assert.Empty(t, result.Emotion)
	assert.Equal(t, 0, classifier.calls)

	_, ok := agg.SessionResults("s1")
	assert.False(t, ok, "invalid frame must not create a session")
}

func TestProcessFrameClassifierError(t *testing.T) {
	agg := NewAggregator(&scriptedClassifier{err: errors.New("sidecar down")}, Config{})

	result := agg.ProcessFrame(context.Background(), pngFrame(t, 4, 4), "s1")
	assert.Equal(t, "sidecar down", result.Error)
	assert.Equal(t, 0, agg.ActiveSessions())
}

func TestSessionResultsDominantAndSamples(t *testing.T) {
	labels := []analysis.Label{analysis.Happy, analysis.Sad, analysis.Sad, analysis.Neutral, analysis.Sad}
	agg := NewAggregator(&scriptedClassifier{labels: labels}, Config{})
	frame := pngFrame(t, 4, 4)

	for range labels {
		require.False(t, agg.ProcessFrame(context.Background(), frame, "s1").Failed())
	}

	results, ok := agg.SessionResults("s1")
	require.True(t, ok)
	assert.Equal(t, "sad", results.DominantEmotion)
	assert.Equal(t, 0.8, results.Score)
	assert.Equal(t, 5, results.TotalSamples)
	assert.Equal(t, "s1", results.SessionID)
	assert.False(t, results.StartedAt.After(results.LastFrameAt))
}

func TestSessionResultsTieUsesFirstSeen(t *testing.T) {
	labels := []analysis.Label{analysis.Fear, analysis.Happy, analysis.Happy, analysis.Fear}
	agg := NewAggregator(&scriptedClassifier{labels: labels}, Config{})
	frame := pngFrame(t, 4, 4)
	for range labels {
		agg.ProcessFrame(context.Background(), frame, "tie")
	}

	results, ok := agg.SessionResults("tie")
	require.True(t, ok)
	assert.Equal(t, "fear", results.DominantEmotion)
	assert.Equal(t, 0.85, results.Score)
}

func TestSessionsAreIsolated(t *testing.T) {
	agg := NewAggregator(&scriptedClassifier{labels: []analysis.Label{analysis.Angry, analysis.Happy}}, Config{})
	frame := pngFrame(t, 4, 4)

	agg.ProcessFrame(context.Background(), frame, "a")
	agg.ProcessFrame(context.Background(), frame, "b")

	a, _ := agg.SessionResults("a")
	b, _ := agg.SessionResults("b")
	assert.Equal(t, "angry", a.DominantEmotion)
	assert.Equal(t, "happy", b.DominantEmotion)
	assert.Equal(t, 2, agg.ActiveSessions())
}

func TestCleanupSession(t *testing.T) {
	agg := NewAggregator(&scriptedClassifier{}, Config{})
	agg.ProcessFrame(context.Background(), pngFrame(t, 4, 4), "s1")

	agg.CleanupSession("s1")
	agg.CleanupSession("s1")
	agg.CleanupSession("never-existed")

	results, ok := agg.SessionResults("s1")
	assert.False(t, ok)
	assert.Nil(t, results)
	assert.Equal(t, 0, agg.ActiveSessions())
}

func TestEvictIdle(t *testing.T) {
	agg := NewAggregator(&scriptedClassifier{}, Config{})
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	frame := pngFrame(t, 4, 4)

	agg.now = func() time.Time { return base }
	agg.ProcessFrame(context.Background(), frame, "stale")
	agg.now = func() time.Time { return base.Add(9 * time.Minute) }
	agg.ProcessFrame(context.Background(), frame, "fresh")

	assert.Nil(t, agg.EvictIdle(base.Add(20*time.Minute), 0), "zero ttl never evicts")

	evicted := agg.EvictIdle(base.Add(10*time.Minute), 5*time.Minute)
	assert.Equal(t, []string{"stale"}, evicted)
	_, ok := agg.SessionResults("fresh")
	assert.True(t, ok)
}

func TestConcurrentFrames(t *testing.T) {
	agg := NewAggregator(&scriptedClassifier{}, Config{})
	frame := pngFrame(t, 4, 4)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.ProcessFrame(context.Background(), frame, "shared")
		}()
	}
	wg.Wait()

	results, ok := agg.SessionResults("shared")
	require.True(t, ok)
	assert.Equal(t, 20, results.TotalSamples)
}

func TestPrepareFrameDownscales(t *testing.T) {
	out, err := prepareFrame(pngFrame(t, 200, 100), 50)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 25, img.Bounds().Dy())
}

func TestPrepareFrameRejectsEmpty(t *testing.T) {
	_, err := prepareFrame(nil, 0)
	require.ErrorIs(t, err, ErrInvalidFrame)
}
