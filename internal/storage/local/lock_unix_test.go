//go:build unix

package local

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestLockFileOutlivesUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, WriteMember(path, "img.ext", []byte("data")))

	_, err := os.Stat(path + ".lock")
	require.NoError(t, err)

	// A second writer locks the same file again.
	require.NoError(t, WriteMember(path, "img2.ext", []byte("data")))
}

func TestLockPathExcludes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	unlock, err := lockPath(path)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := lockPath(path)
		if err == nil {
			second()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first was held")
	case <-time.After(100 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestConcurrentWriteMember(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.zip")
	const n = 8
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			return WriteMember(path, fmt.Sprintf("img%d.ext", i), []byte{byte(i)})
		})
	}
	require.NoError(t, g.Wait())

	a, err := OpenArchive(path)
	require.NoError(t, err)
	defer a.Close() //nolint:errcheck
	assert.Len(t, a.Names(), n)
}
