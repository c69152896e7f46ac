package db

import (
	"errors"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockMigrator struct {
	upErr      error
	version    uint
	dirty      bool
	versionErr error
}

func (m *mockMigrator) Up() error { return m.upErr }
func (m *mockMigrator) Version() (uint, bool, error) {
	return m.version, m.dirty, m.versionErr
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name()] = true
	}

	for _, base := range []string{"000001_users", "000002_chat", "000003_provider_configs"} {
		assert.True(t, names[base+".up.sql"], base+".up.sql")
		assert.True(t, names[base+".down.sql"], base+".down.sql")
	}
}

func TestMigrationFilesNotEmpty(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)

	for _, e := range entries {
		data, err := migrations.ReadFile("migrations/" + e.Name())
		require.NoError(t, err)
		assert.NotEmpty(t, strings.TrimSpace(string(data)), e.Name())
	}
}

func TestUsersMigrationHasEntraUniqueIndex(t *testing.T) {
	data, err := migrations.ReadFile("migrations/000001_users.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(data), "ON users (entra_id)")
}

func TestRunUp(t *testing.T) {
	tests := []struct {
		name    string
		m       *mockMigrator
		wantErr bool
	}{
		{name: "applied", m: &mockMigrator{version: 3}},
		{name: "no change", m: &mockMigrator{upErr: migrate.ErrNoChange, version: 3}},
		{name: "dirty", m: &mockMigrator{version: 2, dirty: true}},
		{name: "nil version", m: &mockMigrator{versionErr: migrate.ErrNilVersion}},
		{name: "up fails", m: &mockMigrator{upErr: errors.New("boom")}, wantErr: true},
		{name: "version fails", m: &mockMigrator{versionErr: errors.New("boom")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runUp(tt.m)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
