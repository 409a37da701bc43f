package archive_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtal-tools/dxlab/archive"
	"github.com/xtal-tools/dxlab/flex"
	"github.com/xtal-tools/dxlab/smv"
)

func encoded(t *testing.T) []byte {
	t.Helper()
	g, err := flex.FromSlice([]int32{1, 2, 3, 4, 5, 6, 7, 8}, 2, 4)
	require.NoError(t, err)
	h := smv.NewHeader()
	h.Set("DETECTOR_SN", "442")
	var buf bytes.Buffer
	require.NoError(t, smv.Write(&buf, h, g))
	return buf.Bytes()
}

func TestNamesAndPath(t *testing.T) {
	root := t.TempDir()
	for _, n := range []string{"b_002.img", "a_001.img", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, n), nil, 0o644))
	}
	d := archive.Dir{Root: root}
	names, err := d.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"a_001.img", "b_002.img"}, names)

	_, err = d.Path("notes.txt")
	assert.ErrorIs(t, err, archive.ErrNotFound)
	_, err = d.Path("../a_001.img")
	assert.ErrorIs(t, err, archive.ErrNotFound)
	_, err = d.Path("c_003.img")
	assert.ErrorIs(t, err, archive.ErrNotFound)
	p, err := d.Path("a_001.img")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a_001.img"), p)
}

func TestLoadWaitsForCompleteFile(t *testing.T) {
	root := t.TempDir()
	raw := encoded(t)
	path := filepath.Join(root, "x_001.img")
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-4], 0o644))
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = os.WriteFile(path, raw, 0o644)
	}()

	d := archive.Dir{Root: root, Timeout: 5 * time.Second}
	h, g, err := d.Load(context.Background(), "x_001.img")
	require.NoError(t, err)
	assert.True(t, smv.IsSN442(h))
	assert.Equal(t, []int{2, 4}, g.All())
}

func TestLoadGivesUpOnGarbage(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "bad.img"), bytes.Repeat([]byte("x"), 600), 0o644))
	d := archive.Dir{Root: root, Timeout: 10 * time.Second}
	start := time.Now()
	_, _, err := d.Load(context.Background(), "bad.img")
	assert.True(t, errors.Is(err, smv.ErrNotSMV), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second, "permanent errors must not be retried")
}

func TestLoadTimesOut(t *testing.T) {
	root := t.TempDir()
	raw := encoded(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "short.img"), raw[:len(raw)-1], 0o644))
	d := archive.Dir{Root: root, Timeout: 200 * time.Millisecond}
	_, _, err := d.Load(context.Background(), "short.img")
	assert.ErrorIs(t, err, smv.ErrShortData)
}

func TestHeader(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "h.img"), encoded(t), 0o644))
	h, err := archive.Dir{Root: root}.Header("h.img")
	require.NoError(t, err)
	v, _ := h.Get("SIZE1")
	assert.Equal(t, "4", v)
}

func TestWatch(t *testing.T) {
	root := t.TempDir()
	d := archive.Dir{Root: root}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 10)
	done := make(chan error, 1)
	go func() { done <- archive.Watch(ctx, d, func(name string) { got <- name }) }()
	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "ignored.txt"), []byte("x"), 0o644))
	f, err := os.Create(filepath.Join(root, "new_001.img"))
	require.NoError(t, err)
	_, _ = f.Write([]byte("partial"))
	_, _ = f.Write([]byte("rest"))
	require.NoError(t, f.Close())

	select {
	case name := <-got:
		assert.Equal(t, "new_001.img", name)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification for new image")
	}
	select {
	case name := <-got:
		t.Errorf("duplicate notification for %s", name)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
