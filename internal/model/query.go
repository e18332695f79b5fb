package model

import "time"

// TimeRange bounds created_at; zero values are open ends.
type TimeRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// Contains reports whether t falls inside the range (inclusive).
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// Filters are the metadata pre-filters shared by structural and vector queries.
// Namespace is mandatory for tier queries; Types empty means every type.
type Filters struct {
	Namespace string       `json:"namespace"`
	Types     []MemoryType `json:"types,omitempty"`
	OwnerID   string       `json:"owner_id,omitempty"`
	TimeRange TimeRange    `json:"time_range"`
}

// Match applies the filters to a record in memory.
func (f Filters) Match(r *Record) bool {
	if r.Namespace != f.Namespace {
		return false
	}
	if f.OwnerID != "" && r.OwnerID != f.OwnerID {
		return false
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if t == r.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return f.TimeRange.Contains(r.CreatedAt)
}

// StructuralQuery selects records from the durable tier.
type StructuralQuery struct {
	Filters
	Limit          int
	IncludeDeleted bool
}

// VectorQuery selects records from the similarity index.
type VectorQuery struct {
	Filters
	Vector    []float32
	Threshold float32
	Limit     int
}

// ScoredID is a similarity hit before it is hydrated into a Record.
type ScoredID struct {
	ID    string     `json:"id"`
	Type  MemoryType `json:"type"`
	Score float32    `json:"score"`
}

// ScoredRecord is a hydrated search result.
type ScoredRecord struct {
	Record *Record `json:"record"`
	// Score is the cosine similarity; zero for structural results.
	Score float32 `json:"score,omitempty"`
}
