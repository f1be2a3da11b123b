package db

import (
	"errors"
	"fmt"
)

// FieldType is the kind of an indexed hash field.
type FieldType int

const (
	// FieldTag is an exact-match TAG field.
	FieldTag FieldType = iota
	// FieldVector is a FLOAT32 HNSW vector field compared by cosine distance.
	FieldVector
)

// HNSW holds the graph parameters of a vector field. Zero values leave the server defaults.
type HNSW struct {
	Dim            int
	M              int
	EFConstruction int
}

// IndexField is one SCHEMA entry. Vector is set only for FieldVector.
type IndexField struct {
	Name   string
	Alias  string
	Type   FieldType
	Vector *HNSW
}

// IndexDefinition describes an FT index over hashes under Prefixes.
type IndexDefinition struct {
	Name     string
	Prefixes []string
	Fields   []IndexField
}

// Validate rejects definitions the server would refuse or misparse.
func (idx *IndexDefinition) Validate() error {
	if !IsValidIdentifier(idx.Name) {
		return fmt.Errorf("invalid index name %q", idx.Name)
	}
	if len(idx.Fields) == 0 {
		return errors.New("index has no fields")
	}

	seen := make(map[string]struct{}, len(idx.Fields))
	for i := range idx.Fields {
		f := &idx.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("field %d has no name", i)
		}
		name := f.Name
		if f.Alias != "" {
			name = f.Alias
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate field %q", name)
		}
		seen[name] = struct{}{}

		if f.Type == FieldVector && (f.Vector == nil || f.Vector.Dim <= 0) {
			return fmt.Errorf("vector field %q needs a positive dimension", name)
		}
	}
	return nil
}

// IsValidIdentifier reports whether s is non-empty and made of [a-zA-Z0-9_:-].
func IsValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == ':', r == '-':
		default:
			return false
		}
	}
	return true
}

// KNNQuery asks for the K nearest hashes to Vector in IndexName.
type KNNQuery struct {
	IndexName    string
	Vector       []float32
	K            int
	ReturnFields []string
}

// SearchResult holds KNN hits ordered by descending similarity.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is one hit. Score is cosine similarity in [0,1].
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
