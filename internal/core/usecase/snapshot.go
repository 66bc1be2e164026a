package usecase

import (
	"encoding/json"
	"fmt"

	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
)

// Snapshot returns a deep copy of fields that shares no references with the
// document. Values that cannot be encoded as JSON yield a *domain.CaptureError.
func Snapshot(fields map[string]any) (map[string]any, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, &domain.CaptureError{Op: "snapshot", Err: err}
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &domain.CaptureError{Op: "snapshot", Err: err}
	}
	return out, nil
}

// MergePatch snapshots current with the top-level keys of patch written over it.
func MergePatch(current map[string]any, patch domain.Patch) (map[string]any, error) {
	merged := make(map[string]any, len(current)+len(patch))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return Snapshot(merged)
}

func copyValue(path string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &domain.CaptureError{Op: fmt.Sprintf("field %s", path), Err: err}
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &domain.CaptureError{Op: fmt.Sprintf("field %s", path), Err: err}
	}
	return out, nil
}
