package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"extendfs/internal/extend"

	"bazil.org/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemount(t *testing.T) {
	obs := &recordingObserver{}
	vfs, _ := setupTestFS(t, Options{MountOptions: "delayupdatetime=100", Observer: obs})

	require.NoError(t, vfs.Remount("delayupdatetime=400;wbnice"))
	snap := vfs.Config().Snapshot()
	assert.Equal(t, uint32(400), snap.DelayUpdateTime)
	assert.True(t, snap.WritebackNiceEnabled)

	// Nodes stay as registered at mount time.
	nodes := vfs.Control().Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, extend.AttrDelayUpdateTime, nodes[0].Name())
	assert.Equal(t, "400\n", nodes[0].Show())

	loaded, err := vfs.stateManager.LoadState()
	require.NoError(t, err)
	assert.Equal(t, "delayupdatetime=400;wbnice", loaded.Mount.Options)

	err = vfs.Remount("noatime")
	assert.ErrorIs(t, err, extend.ErrUnsupportedOption)

	obs.mu.Lock()
	require.Len(t, obs.remounts, 2)
	assert.NoError(t, obs.remounts[0])
	assert.Error(t, obs.remounts[1])
	obs.mu.Unlock()

	loaded, err = vfs.stateManager.LoadState()
	require.NoError(t, err)
	assert.Equal(t, "delayupdatetime=400;wbnice", loaded.Mount.Options, "failed remount is not recorded")
}

func TestClose(t *testing.T) {
	vfs, sourceDir := setupTestFS(t, Options{MountOptions: "wbnice"})
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "data.txt"), nil, 0644))
	file := lookupFile(t, vfs, "data.txt")
	fh := openFile(t, file)
	writeAt(t, fh, []byte("pending"), 0)

	require.NoError(t, file.Setxattr(ctx, &fuse.SetxattrRequest{Name: "user.k", Xattr: []byte("v")}))

	require.NoError(t, vfs.Close())
	require.NoError(t, vfs.Close())

	content, err := os.ReadFile(filepath.Join(sourceDir, "data.txt"))
	require.NoError(t, err)
	assert.Equal(t, "pending", string(content))
	assert.Empty(t, vfs.Control().Nodes())

	loaded, err := vfs.stateManager.LoadState()
	require.NoError(t, err)
	value, ok := loaded.GetXattr("data.txt", "user.k")
	require.True(t, ok)
	assert.Equal(t, "v", string(value))
}

func TestNotMounted(t *testing.T) {
	vfs, _ := setupTestFS(t, Options{})

	assert.Error(t, vfs.Wait())
	assert.NoError(t, vfs.Unmount())
}
