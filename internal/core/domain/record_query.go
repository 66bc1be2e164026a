package domain

import "regexp"

var pathSegmentPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type JSONPathFilter struct {
	Path  string `json:"path"`
	Op    string `json:"op"`
	Value string `json:"value"`
}

func (f JSONPathFilter) Validate() error {
	if f.Path == "" {
		if f.Op == "" && f.Value == "" {
			return nil
		}
		return ErrInvalidFilter
	}

	if err := ValidatePath(f.Path); err != nil {
		return ErrInvalidFilter
	}

	switch f.Operator() {
	case "eq", "ne", "contains":
		if f.Value == "" {
			return ErrInvalidFilter
		}
	case "exists", "missing":
		if f.Value != "" {
			return ErrInvalidFilter
		}
	default:
		return ErrInvalidFilter
	}

	return nil
}

func (f JSONPathFilter) Operator() string {
	if f.Op == "" {
		return "eq"
	}
	return f.Op
}

// Query selects documents of one collection. It serves both listing and the
// criteria of delete/update-by-query pathways.
type Query struct {
	TenantID   string
	Collection string
	Prefix     string
	After      string
	Limit      int
	JSON       JSONPathFilter
}

func (q Query) Validate() error {
	if err := ValidateKey(q.TenantID); err != nil {
		return err
	}
	if err := ValidateCategory(q.Collection); err != nil {
		return err
	}
	if q.Prefix != "" {
		if err := ValidateKey(q.Prefix); err != nil {
			return err
		}
	}
	if q.After != "" {
		if err := ValidateKey(q.After); err != nil {
			return err
		}
	}
	return q.JSON.Validate()
}

// Patch is a caller-supplied update applied by update-by-query pathways. Keys
// are dotted paths or the operators "$set" and "$unset".
type Patch map[string]any

// ValidatePath returns ErrInvalidPath unless every dotted segment of path is
// made of letters, digits, underscores or dashes.
func ValidatePath(path string) error {
	segments := SplitJSONPath(path)
	if len(segments) == 0 {
		return ErrInvalidPath
	}
	for _, seg := range segments {
		if !pathSegmentPattern.MatchString(seg) {
			return ErrInvalidPath
		}
	}
	return nil
}

func SplitJSONPath(path string) []string {
	segments := make([]string, 0)
	current := ""
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			if current == "" {
				return nil
			}
			segments = append(segments, current)
			current = ""
			continue
		}
		current += string(path[i])
	}
	if current == "" {
		return nil
	}
	segments = append(segments, current)
	return segments
}
