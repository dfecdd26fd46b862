package search

// Result is a single search hit returned to the caller.
type Result struct {
	SpecID      string `json:"specId"`
	ProjectID   string `json:"projectId"`
	FeatureID   string `json:"featureId"`
	FeatureName string `json:"featureName"`
	FileType    string `json:"fileType"`
	Snippet     string `json:"snippet"`
	Version     int    `json:"version"`
}

// Query describes a search request. Searches never cross projects.
type Query struct {
	ProjectID string
	Text      string
	Limit     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// SpecRecord is the data we index for a synced spec.
type SpecRecord struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	FeatureID   string `json:"featureId"`
	FeatureName string `json:"featureName"`
	FileType    string `json:"fileType"`
	Content     string `json:"content"`
	Version     int    `json:"version"`
}

const (
	SourceMeili = "meilisearch"
	SourceSQL   = "sql"
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
