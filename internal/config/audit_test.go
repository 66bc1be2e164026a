package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
)

func TestEntityTypeFor(t *testing.T) {
	cases := map[string]string{
		"widgets":     "Widget",
		"people":      "Person",
		"order_items": "OrderItem",
		"audit-logs":  "AuditLog",
	}
	for collection, want := range cases {
		assert.Equal(t, want, EntityTypeFor(collection), collection)
	}
	assert.Empty(t, EntityTypeFor(""))
}

func TestParseAuditDefaults(t *testing.T) {
	cfg, err := ParseAudit([]byte(`
kinds:
  - collection: widgets
  - collection: people
    entity_type: Human
    tombstone_field: removed_on
collapse_tombstone_saves: true
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultBulkFailureMode, cfg.BulkFailureMode)
	assert.True(t, cfg.CollapseTombstoneSaves)

	kinds, err := cfg.EntityKinds()
	require.NoError(t, err)
	assert.Equal(t, []domain.EntityKind{
		{Collection: "people", EntityType: "Human", TombstoneField: "removed_on"},
		{Collection: "widgets", EntityType: "Widget", TombstoneField: domain.DefaultTombstoneField},
	}, kinds)
}

func TestTrackSkipsConfiguredCollections(t *testing.T) {
	cfg := DefaultAudit()
	cfg.Kinds = []Kind{{Collection: "widgets", EntityType: "Gadget"}}

	cfg.Track("widgets", " orders ", "", "orders")

	kinds, err := cfg.EntityKinds()
	require.NoError(t, err)
	require.Len(t, kinds, 2)
	assert.Equal(t, "Order", kinds[0].EntityType)
	assert.Equal(t, "Gadget", kinds[1].EntityType)
}

func TestEntityKindsRejectsInvalid(t *testing.T) {
	cfg := &Audit{Kinds: []Kind{{Collection: "bad collection"}}}
	_, err := cfg.EntityKinds()
	assert.ErrorIs(t, err, domain.ErrInvalidCategory)

	cfg = &Audit{Kinds: []Kind{{Collection: "widgets"}, {Collection: "widgets", EntityType: "Other"}}}
	_, err = cfg.EntityKinds()
	assert.Error(t, err)
}

func TestLoadAudit(t *testing.T) {
	cfg, err := LoadAudit("")
	require.NoError(t, err)
	assert.Equal(t, DefaultBulkFailureMode, cfg.BulkFailureMode)

	path := filepath.Join(t.TempDir(), "audit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bulk_failure_mode: atomic\nkinds:\n  - collection: widgets\n"), 0o600))
	cfg, err = LoadAudit(path)
	require.NoError(t, err)
	assert.Equal(t, "atomic", cfg.BulkFailureMode)
	assert.Len(t, cfg.Kinds, 1)

	_, err = LoadAudit(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = ParseAudit([]byte("kinds: [: bad"))
	assert.Error(t, err)
}
