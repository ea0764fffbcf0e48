package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edoardograci/track-loop-main/internal/audio"
	"github.com/edoardograci/track-loop-main/internal/pitch"
)

type countingSource struct {
	calls int
	track *pitch.Track
}

func (c *countingSource) Name() string { return "fake" }

func (c *countingSource) Extract(context.Context, *audio.Clip) (*pitch.Track, error) {
	c.calls++
	return c.track, nil
}

func sampleTrack(t *testing.T) *pitch.Track {
	track, err := pitch.NewTrack("fake", 100, 1,
		[]float64{0, 220, 220},
		[]bool{false, true, true},
		[]float64{0.1, 0.9, 0.9},
		[]float64{0.01})
	require.NoError(t, err)
	return track
}

func writeFile(t *testing.T, name, body string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestKeyForFile(t *testing.T) {
	a := writeFile(t, "a.wav", "same")
	b := writeFile(t, "b.wav", "same")
	c := writeFile(t, "c.wav", "different")
	params := pitch.DefaultParams()

	ka, err := KeyForFile(a, "script", params)
	require.NoError(t, err)
	kb, err := KeyForFile(b, "script", params)
	require.NoError(t, err)
	kc, err := KeyForFile(c, "script", params)
	require.NoError(t, err)
	kd, err := KeyForFile(a, "builtin", params)
	require.NoError(t, err)

	assert.Equal(t, ka, kb)
	assert.NotEqual(t, ka, kc)
	assert.NotEqual(t, ka, kd)

	_, err = KeyForFile(filepath.Join(t.TempDir(), "missing"), "script", params)
	assert.Error(t, err)
}

func TestKeyForFileCoversEveryParam(t *testing.T) {
	path := writeFile(t, "a.wav", "same")
	base, err := KeyForFile(path, "script", pitch.DefaultParams())
	require.NoError(t, err)

	changes := map[string]func(p *pitch.Params){
		"hop length":   func(p *pitch.Params) { p.HopLength = 512 },
		"frame length": func(p *pitch.Params) { p.FrameLength = 4096 },
		"win length":   func(p *pitch.Params) { p.WinLength = 2048 },
		"fmin":         func(p *pitch.Params) { p.FMin = 80 },
		"fmax":         func(p *pitch.Params) { p.FMax = 1000 },
	}
	for name, change := range changes {
		t.Run(name, func(t *testing.T) {
			p := pitch.DefaultParams()
			change(&p)
			key, err := KeyForFile(path, "script", p)
			require.NoError(t, err)
			assert.NotEqual(t, base, key)
		})
	}
}

func TestSourceMissesAfterParamChange(t *testing.T) {
	c, err := New(t.TempDir(), t.TempDir())
	require.NoError(t, err)

	inner := &countingSource{track: sampleTrack(t)}
	clip := &audio.Clip{Path: writeFile(t, "in.wav", "RIFF....WAVE")}

	_, err = (&Source{Inner: inner, Cache: c, Params: pitch.DefaultParams()}).Extract(context.Background(), clip)
	require.NoError(t, err)

	changed := pitch.DefaultParams()
	changed.FMax = 800
	_, err = (&Source{Inner: inner, Cache: c, Params: changed}).Extract(context.Background(), clip)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestPutGet(t *testing.T) {
	c, err := New(t.TempDir(), t.TempDir())
	require.NoError(t, err)

	_, ok := c.Get("k")
	assert.False(t, ok)

	track := sampleTrack(t)
	entry, err := c.Put("k", track)
	require.NoError(t, err)
	assert.FileExists(t, entry.Path)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, track, got)

	size, count, err := c.Size()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Positive(t, size)

	require.NoError(t, c.Clear())
	_, count, err = c.Size()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestScriptChangeInvalidates(t *testing.T) {
	dir, scripts := t.TempDir(), t.TempDir()
	script := filepath.Join(scripts, pitch.ScriptName)
	require.NoError(t, os.WriteFile(script, []byte("v1"), 0o644))

	c1, err := New(dir, scripts)
	require.NoError(t, err)
	_, err = c1.Put("k", sampleTrack(t))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(script, []byte("v2"), 0o644))
	c2, err := New(dir, scripts)
	require.NoError(t, err)

	assert.NotEqual(t, c1.Version(), c2.Version())
	_, ok := c2.Get("k")
	assert.False(t, ok)
}

func TestCorruptEntryIsMiss(t *testing.T) {
	c, err := New(t.TempDir(), t.TempDir())
	require.NoError(t, err)
	_, err = c.Put("k", sampleTrack(t))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(c.trackPath("k"), []byte("{"), 0o644))
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestSourceUsesCache(t *testing.T) {
	c, err := New(t.TempDir(), t.TempDir())
	require.NoError(t, err)

	inner := &countingSource{track: sampleTrack(t)}
	src := &Source{Inner: inner, Cache: c, Params: pitch.DefaultParams()}
	clip := &audio.Clip{Path: writeFile(t, "in.wav", "RIFF....WAVE")}

	first, err := src.Extract(context.Background(), clip)
	require.NoError(t, err)
	second, err := src.Extract(context.Background(), clip)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, first, second)
	assert.Equal(t, "fake", src.Name())

	// clips without a backing file bypass the cache
	_, err = src.Extract(context.Background(), &audio.Clip{})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}
