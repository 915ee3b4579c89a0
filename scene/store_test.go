package scene

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Capabilities = (*Memory)(nil)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "nested", "scene.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_LoadEmpty(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Load()
	require.ErrorIs(t, err, ErrNoSnapshot)
}

func TestStore_SaveLoadRestore(t *testing.T) {
	s := openTestStore(t)

	src := newTestScene(t)
	mustCreate(t, src, PrimitiveSpec{Type: PrimitiveCube, Name: "Hero", Location: Vec3{1, 2, 3}})
	_, err := src.LinkedDuplicate("Hero", "Hero_backup")
	require.NoError(t, err)
	require.NoError(t, src.EnsureCollection("MCP_Backup_Meshes", true))
	require.NoError(t, src.LinkToCollection("Hero_backup", "MCP_Backup_Meshes"))
	_, err = src.SetMaterial("Hero", "", true, []float64{0, 1, 0})
	require.NoError(t, err)

	require.NoError(t, s.Save(src.Snapshot()))

	snap, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, snap.Meshes, 1, "shared mesh data is stored once")

	dst := newTestScene(t)
	require.NoError(t, dst.Restore(snap))

	hero, err := dst.Object("Hero")
	require.NoError(t, err)
	assert.Equal(t, Vec3{1, 2, 3}, hero.Location)
	assert.Equal(t, []string{"Hero_material"}, hero.Materials)

	backup, err := dst.Object("Hero_backup")
	require.NoError(t, err)
	assert.Equal(t, hero.Data, backup.Data)
	assert.False(t, backup.Visible)

	// deleting one user keeps the shared data alive
	require.NoError(t, dst.DeleteObject("Hero"))
	_, err = dst.MeshStats("Hero_backup")
	require.NoError(t, err)
}

func TestStore_HistoryTrimmed(t *testing.T) {
	s := openTestStore(t)
	m := newTestScene(t)

	for i := range defaultKeepLast + 3 {
		mustCreate(t, m, PrimitiveSpec{Type: PrimitiveCube})
		snap := m.Snapshot()
		snap.SceneName = "Scene" + string(rune('A'+i))
		require.NoError(t, s.Save(snap))
	}

	hist, err := s.History()
	require.NoError(t, err)
	require.Len(t, hist, defaultKeepLast)
	assert.Equal(t, "SceneD", hist[0].SceneName)
	assert.Equal(t, "SceneM", hist[len(hist)-1].SceneName)
	assert.Len(t, hist[len(hist)-1].Objects, defaultKeepLast+3)
}

func TestRestore_MissingMesh(t *testing.T) {
	m := newTestScene(t)
	err := m.Restore(Snapshot{Objects: []SnapshotObject{{Name: "X", Kind: KindMesh, Mesh: "gone"}}})
	require.Error(t, err)
}
