package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
	"gopkg.in/yaml.v3"

	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
)

// Audit is the audit configuration file.
type Audit struct {
	Kinds                  []Kind `yaml:"kinds"`
	BulkFailureMode        string `yaml:"bulk_failure_mode"`
	CollapseTombstoneSaves bool   `yaml:"collapse_tombstone_saves"`
}

// Kind is one tracked collection. EntityType and TombstoneField are optional.
type Kind struct {
	Collection     string `yaml:"collection"`
	EntityType     string `yaml:"entity_type"`
	TombstoneField string `yaml:"tombstone_field"`
}

const DefaultBulkFailureMode = "partial"

func DefaultAudit() *Audit {
	return &Audit{BulkFailureMode: DefaultBulkFailureMode}
}

// LoadAudit reads an audit configuration file. An empty path yields the
// defaults.
func LoadAudit(path string) (*Audit, error) {
	if path == "" {
		return DefaultAudit(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audit config: %w", err)
	}
	return ParseAudit(data)
}

func ParseAudit(data []byte) (*Audit, error) {
	cfg := DefaultAudit()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse audit config: %w", err)
	}
	if strings.TrimSpace(cfg.BulkFailureMode) == "" {
		cfg.BulkFailureMode = DefaultBulkFailureMode
	}
	return cfg, nil
}

// Track adds collections that are not configured yet, with default entity
// type and tombstone field.
func (a *Audit) Track(collections ...string) {
	seen := make(map[string]struct{}, len(a.Kinds))
	for _, k := range a.Kinds {
		seen[k.Collection] = struct{}{}
	}
	for _, c := range collections {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		a.Kinds = append(a.Kinds, Kind{Collection: c})
	}
}

// EntityKinds resolves defaults and validates every configured kind.
func (a *Audit) EntityKinds() ([]domain.EntityKind, error) {
	out := make([]domain.EntityKind, 0, len(a.Kinds))
	seen := make(map[string]struct{}, len(a.Kinds))
	for _, k := range a.Kinds {
		kind := domain.EntityKind{
			Collection:     k.Collection,
			EntityType:     k.EntityType,
			TombstoneField: k.TombstoneField,
		}
		if kind.EntityType == "" {
			kind.EntityType = EntityTypeFor(k.Collection)
		}
		kind = kind.Normalize()
		if err := kind.Validate(); err != nil {
			return nil, fmt.Errorf("audit kind %q: %w", k.Collection, err)
		}
		if _, dup := seen[kind.Collection]; dup {
			return nil, fmt.Errorf("audit kind %q: configured twice", kind.Collection)
		}
		seen[kind.Collection] = struct{}{}
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Collection < out[j].Collection })
	return out, nil
}

// EntityTypeFor derives an entity type from a collection name:
// "widgets" becomes "Widget", "order_items" becomes "OrderItem".
func EntityTypeFor(collection string) string {
	parts := strings.FieldsFunc(collection, func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	})
	if len(parts) == 0 {
		return ""
	}
	parts[len(parts)-1] = inflection.Singular(parts[len(parts)-1])

	var b strings.Builder
	for _, p := range parts {
		runes := []rune(p)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	return b.String()
}
