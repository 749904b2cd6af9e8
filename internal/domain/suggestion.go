package domain

// Category groups insight suggestions.
type Category string

const (
	CategoryOptimization Category = "Optimization"
	CategoryAutomation   Category = "Automation"
	CategoryEfficiency   Category = "Efficiency"
)

// Suggestion is a single workflow-improvement hint shown in the insights panel.
type Suggestion struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
}
