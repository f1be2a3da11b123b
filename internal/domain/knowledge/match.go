package knowledge

// Match is a retrieved entry with its cosine similarity to the query.
type Match struct {
	Entry      Entry
	Similarity float64
}

// TopSimilarity returns the best similarity among matches, 0 when empty.
func TopSimilarity(matches []Match) float64 {
	top := 0.0
	for _, m := range matches {
		if m.Similarity > top {
			top = m.Similarity
		}
	}
	return top
}

// Ref identifies an entry in both stores: the row by ID, the vector by collection and ID.
type Ref struct {
	ID         string
	Collection string
}
