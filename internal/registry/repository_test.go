package registry

import (
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakehub/wakehub/internal/db"
)

func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	dbPair, err := db.Init(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })

	return NewRepository(dbPair)
}

func TestRepository_UpsertAndGet(t *testing.T) {
	repo := setupTestRepo(t)

	wakeWait := 22
	lastSeen := time.Date(2026, 3, 14, 6, 30, 0, 0, time.UTC)
	err := repo.Upsert(&DeviceProfile{
		Name:               "Kitchen Speaker",
		InstanceName:       "kitchen123._spotify-connect._tcp.local.",
		SpotifyDeviceNames: []string{"Kitchen Speaker", "KITCHEN"},
		IP:                 "192.168.1.40",
		Port:               8200,
		CPath:              "/zc/",
		VolumePreset:       45,
		MaxWakeWaitSec:     &wakeWait,
		LastSeenAt:         &lastSeen,
	})
	require.NoError(t, err)

	got, err := repo.GetByName("Kitchen Speaker")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "Kitchen Speaker", got.Name)
	assert.Equal(t, "kitchen123._spotify-connect._tcp.local.", got.InstanceName)
	assert.Equal(t, []string{"Kitchen Speaker", "KITCHEN"}, got.SpotifyDeviceNames)
	assert.Equal(t, "192.168.1.40", got.IP)
	assert.Equal(t, 8200, got.Port)
	assert.Equal(t, "/zc", got.CPath, "cpath is normalized on write")
	assert.Equal(t, 45, got.VolumePreset)
	require.NotNil(t, got.MaxWakeWaitSec)
	assert.Equal(t, 22, *got.MaxWakeWaitSec)
	require.NotNil(t, got.LastSeenAt)
	assert.True(t, got.LastSeenAt.Equal(lastSeen))
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestRepository_GetMissing(t *testing.T) {
	repo := setupTestRepo(t)

	got, err := repo.GetByName("No Such Device")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_UpsertUpdatesExisting(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.Upsert(&DeviceProfile{Name: "Bedroom", IP: "192.168.1.50", Port: 8200}))
	first, err := repo.GetByName("Bedroom")
	require.NoError(t, err)
	require.NotNil(t, first)

	require.NoError(t, repo.Upsert(&DeviceProfile{
		Name:               "Bedroom",
		InstanceName:       "bedroom._spotify-connect._tcp.local.",
		SpotifyDeviceNames: []string{"Bedroom Speaker"},
		IP:                 "192.168.1.51",
		Port:               8201,
		VolumePreset:       60,
	}))

	second, err := repo.GetByName("Bedroom")
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, "192.168.1.51", second.IP)
	assert.Equal(t, 8201, second.Port)
	assert.Equal(t, 60, second.VolumePreset)
	assert.Equal(t, []string{"Bedroom Speaker"}, second.SpotifyDeviceNames)
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt), "created_at survives updates")
}

func TestRepository_UpsertDropsDuplicateNames(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.Upsert(&DeviceProfile{
		Name:               "Office",
		SpotifyDeviceNames: []string{"Office", "OFFICE", " office ", "", "Office 2"},
	}))

	got, err := repo.GetByName("Office")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"Office", "Office 2"}, got.SpotifyDeviceNames)
}

func TestRepository_UpsertRequiresName(t *testing.T) {
	repo := setupTestRepo(t)
	assert.Error(t, repo.Upsert(&DeviceProfile{IP: "192.168.1.40"}))
}

func TestRepository_List(t *testing.T) {
	repo := setupTestRepo(t)

	profiles, err := repo.List()
	require.NoError(t, err)
	assert.Empty(t, profiles)

	require.NoError(t, repo.Upsert(&DeviceProfile{Name: "Office"}))
	require.NoError(t, repo.Upsert(&DeviceProfile{Name: "Attic"}))
	require.NoError(t, repo.Upsert(&DeviceProfile{Name: "Kitchen"}))

	profiles, err = repo.List()
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.Equal(t, "Attic", profiles[0].Name)
	assert.Equal(t, "Kitchen", profiles[1].Name)
	assert.Equal(t, "Office", profiles[2].Name)

	for _, profile := range profiles {
		assert.Equal(t, DefaultCPath, profile.CPath, "empty cpath normalizes to the default")
	}
}

func TestRepository_Delete(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.Upsert(&DeviceProfile{Name: "Garage"}))
	require.NoError(t, repo.Delete("Garage"))

	got, err := repo.GetByName("Garage")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting again is not an error.
	require.NoError(t, repo.Delete("Garage"))
}
