package types

// QueryAttributes is the output of the query attribute extractor:
// optional fields drawn from closed vocabularies, plus per-field
// confidence used to gate whether an LLM-derived value overrides the
// heuristic one.
type QueryAttributes struct {
	Topic       string
	DocType     string
	ProjectName string
	Severity    string
	Keywords    map[string]struct{}
	Confidence  map[string]float64
}

// NewQueryAttributes returns an empty QueryAttributes with initialized maps.
func NewQueryAttributes() *QueryAttributes {
	return &QueryAttributes{
		Keywords:   make(map[string]struct{}),
		Confidence: make(map[string]float64),
	}
}

// HasProjectOrTopicAndDocType reports whether the heuristic pass already
// filled in enough fields that the LLM fallback is unnecessary: a project
// name, or both a topic and a doc type.
func (qa *QueryAttributes) HasProjectOrTopicAndDocType() bool {
	if qa.ProjectName != "" {
		return true
	}
	return qa.Topic != "" && qa.DocType != ""
}

// KeywordSlice returns the keyword set as a sorted-free slice (order is
// not part of the contract; callers needing determinism sort it).
func (qa *QueryAttributes) KeywordSlice() []string {
	out := make([]string, 0, len(qa.Keywords))
	for k := range qa.Keywords {
		out = append(out, k)
	}
	return out
}
