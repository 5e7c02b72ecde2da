package filewatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReportsInitialContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	in := New(path)
	changed := make(chan struct{}, 4)
	unsub := in.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsub()

	select {
	case <-changed:
	case <-time.After(time.Second):
	}

	out, _ := in.Get(context.Background())
	v, ok := out.Value()
	require.True(t, ok)
	assert.Equal(t, "v1", string(v.Bytes))
	assert.Equal(t, path, v.Path)
}

func TestWriteTriggersRefresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	in := New(path)
	changed := make(chan struct{}, 8)
	unsub := in.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsub()

	<-changed // initial fetch on subscribe

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a refresh after write")
	}

	require.Eventually(t, func() bool {
		out, _ := in.Get(context.Background())
		v, ok := out.Value()
		return ok && string(v.Bytes) == "v2"
	}, 2*time.Second, 10*time.Millisecond)
}
