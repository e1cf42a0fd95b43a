package domain

// Analysis is the enrichment produced for one piece of content
type Analysis struct {
	Tags      []string `json:"tags"`
	Topics    []string `json:"topics"`
	Sentiment string   `json:"sentiment"` // positive, negative or neutral
	Language  string   `json:"language"`  // ISO 639-1 code
}
