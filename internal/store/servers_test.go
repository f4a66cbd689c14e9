package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/gatechat/internal/models"
)

func newServerStore(t *testing.T) (*ServerStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "servers.db")
	s, err := OpenServerStore(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestNormalizeAndValidateBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"trims whitespace and slash", "  https://api.example.com/  ", "https://api.example.com", false},
		{"defaults to https", "api.example.com", "https://api.example.com", false},
		{"keeps port and path", "https://api.example.com:8443/v1/", "https://api.example.com:8443/v1", false},
		{"http localhost allowed", "http://localhost:8080/", "http://localhost:8080", false},
		{"http loopback ip allowed", "http://127.0.0.1:3000", "http://127.0.0.1:3000", false},
		{"http ipv6 loopback allowed", "http://[::1]:8080", "http://[::1]:8080", false},
		{"http remote host rejected", "http://example.com", "", true},
		{"non-http scheme rejected", "ftp://example.com", "", true},
		{"empty rejected", "   ", "", true},
		{"bare slashes rejected", "///", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAndValidateBaseURL(tt.raw)
			if tt.wantErr {
				var valErr *ValidationError
				require.ErrorAs(t, err, &valErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSaveLoadPreservesOrder(t *testing.T) {
	s, _ := newServerStore(t)

	servers := []models.GatewayServer{
		models.NewGatewayServer("prod", "https://prod.example.com"),
		models.NewGatewayServer("staging", "https://staging.example.com"),
		models.NewGatewayServer("local", "http://localhost:8080"),
	}
	require.NoError(t, s.Save(servers))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i := range servers {
		assert.Equal(t, servers[i].ID, loaded[i].ID)
		assert.Equal(t, servers[i].Name, loaded[i].Name)
	}

	// Save replaces, never merges.
	require.NoError(t, s.Save(servers[:1]))
	loaded, err = s.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "prod", loaded[0].Name)
}

func TestPickActive(t *testing.T) {
	servers := []models.GatewayServer{
		{ID: "a", Name: "first"},
		{ID: "b", Name: "second"},
	}

	assert.Nil(t, PickActive(nil, "a"))
	assert.Equal(t, "second", PickActive(servers, "b").Name)
	assert.Equal(t, "first", PickActive(servers, "").Name)
	assert.Equal(t, "first", PickActive(servers, "gone").Name)
}

func TestActiveIDPersists(t *testing.T) {
	s, path := newServerStore(t)

	id, err := s.ActiveID()
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, s.SetActiveID("srv-1"))
	require.NoError(t, s.Close())

	s2, err := OpenServerStore(path, nil)
	require.NoError(t, err)
	defer s2.Close()

	id, err = s2.ActiveID()
	require.NoError(t, err)
	assert.Equal(t, "srv-1", id)
}

func TestClearTokenOnlyDropsTokenAndStatus(t *testing.T) {
	s, _ := newServerStore(t)

	srv := models.NewGatewayServer("prod", "https://prod.example.com")
	srv.Token = "tok-123"
	srv.Status = models.StatusOnline
	srv.Region = "eu-west"
	require.NoError(t, s.Add(srv))

	require.NoError(t, s.ClearToken(srv.ID))

	got, err := s.Get(srv.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Token)
	assert.Equal(t, models.StatusAuthFailed, got.Status)
	assert.Equal(t, "prod", got.Name)
	assert.Equal(t, "https://prod.example.com", got.BaseURL)
	assert.Equal(t, "eu-west", got.Region)
}

func TestUpdateStatusStampsCheckTime(t *testing.T) {
	s, _ := newServerStore(t)

	srv := models.NewGatewayServer("prod", "https://prod.example.com")
	require.NoError(t, s.Add(srv))

	require.NoError(t, s.UpdateStatus(srv.ID, models.StatusOnline, "us-east"))

	got, err := s.Get(srv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, got.Status)
	assert.Equal(t, "us-east", got.Region)
	assert.False(t, got.LastCheckedAt.IsZero())
}

func TestRemove(t *testing.T) {
	s, _ := newServerStore(t)

	a := models.NewGatewayServer("a", "https://a.example.com")
	b := models.NewGatewayServer("b", "https://b.example.com")
	require.NoError(t, s.Add(a))
	require.NoError(t, s.Add(b))
	require.NoError(t, s.SetActiveID(a.ID))

	require.NoError(t, s.Remove(a.ID))
	assert.ErrorIs(t, s.Remove(a.ID), ErrNotFound)

	// The pointer now dangles; resolution falls back to the first entry.
	servers, err := s.Load()
	require.NoError(t, err)
	activeID, err := s.ActiveID()
	require.NoError(t, err)
	require.NotNil(t, PickActive(servers, activeID))
	assert.Equal(t, "b", PickActive(servers, activeID).Name)
}

func TestCorruptDatabaseDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a sqlite file"), 0o644))

	s, err := OpenServerStore(path, nil)
	require.NoError(t, err)
	defer s.Close()

	servers, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, servers)

	// The unreadable file was moved aside, not destroyed.
	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
