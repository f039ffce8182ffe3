package store

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/cloudkucooland/cowaybridge/accessory"
	"github.com/cloudkucooland/cowaybridge/iocare"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoad(t *testing.T) {
	s := openTest(t)

	first := accessory.Context{
		DeviceType: "004",
		Device:     iocare.Device{Barcode: "AP1", TypeCode: "004", Nickname: "Bedroom"},
		Configured: true,
		State:      json.RawMessage(`{"controlInfo":{"on":true}}`),
	}
	second := accessory.Context{DeviceType: "001", Device: iocare.Device{Barcode: "WP1"}}

	require.NoError(t, s.Save("u1", first))
	require.NoError(t, s.Save("u2", second))

	first.Configured = false
	require.NoError(t, s.Save("u1", first))

	entries, err := s.Load()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "u1", entries[0].UUID)
	assert.Equal(t, int64(2), entries[0].Version)
	assert.Equal(t, "Bedroom", entries[0].Context.Device.Nickname)
	assert.False(t, entries[0].Context.Configured)
	assert.JSONEq(t, `{"controlInfo":{"on":true}}`, string(entries[0].Context.State))

	assert.Equal(t, "u2", entries[1].UUID)
	assert.Equal(t, int64(1), entries[1].Version)
}

func TestDelete(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.Save("u1", accessory.Context{DeviceType: "004"}))
	require.NoError(t, s.Delete("u1"))
	require.NoError(t, s.Delete("missing"))

	entries, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUndecodableRowIsSkipped(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.Save("u1", accessory.Context{DeviceType: "004"}))
	_, err := s.db.Exec(`INSERT INTO accessory_context (uuid, device_type, payload, updated_at) VALUES ('bad', '004', 'not json', 0)`)
	require.NoError(t, err)

	entries, err := s.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "u1", entries[0].UUID)
}
