package usecase

import (
	"errors"
	"sort"

	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
)

// ExtractCreate maps every field of a new document, keys sorted.
func ExtractCreate(doc *domain.Document) (domain.CreateChanges, error) {
	fields := doc.Fields()
	values := make(domain.FieldChanges, 0, len(fields))
	for _, k := range sortedKeys(fields) {
		v, err := copyValue(k, fields[k])
		if err != nil {
			return domain.CreateChanges{}, err
		}
		values = append(values, domain.FieldChange{Path: k, Value: v})
	}
	return domain.CreateChanges{Values: values}, nil
}

// ExtractUpdate maps each modified path to its current value. Removed paths map to nil.
func ExtractUpdate(doc *domain.Document) (domain.UpdateChanges, error) {
	paths := doc.ModifiedPaths()
	values := make(domain.FieldChanges, 0, len(paths))
	for _, p := range paths {
		current, _ := doc.Get(p)
		v, err := copyValue(p, current)
		if err != nil {
			return domain.UpdateChanges{}, err
		}
		values = append(values, domain.FieldChange{Path: p, Value: v})
	}
	return domain.UpdateChanges{Values: values}, nil
}

// ExtractPatch records a caller-supplied patch as is. Operator keys are kept
// verbatim and not expanded.
func ExtractPatch(patch domain.Patch) (domain.UpdateChanges, error) {
	values := make(domain.FieldChanges, 0, len(patch))
	for _, k := range sortedKeys(patch) {
		v, err := copyValue(k, patch[k])
		if err != nil {
			return domain.UpdateChanges{}, err
		}
		values = append(values, domain.FieldChange{Path: k, Value: v})
	}
	return domain.UpdateChanges{Values: values}, nil
}

func ExtractSoftDelete(doc *domain.Document, field string) (domain.SoftDeleteChanges, error) {
	current, ok := doc.Get(field)
	if !ok || current == nil {
		return domain.SoftDeleteChanges{}, &domain.CaptureError{Op: "soft delete", Err: errors.New("tombstone field " + field + " is not set")}
	}
	v, err := copyValue(field, current)
	if err != nil {
		return domain.SoftDeleteChanges{}, err
	}
	return domain.SoftDeleteChanges{Field: field, Value: v}, nil
}

func ExtractRestore(field string) domain.RestoreChanges {
	return domain.RestoreChanges{Field: field}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
