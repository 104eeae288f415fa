package burden

import "fmt"

// Colors are display tokens for a category.
type Colors struct {
	Text       string `json:"text"`
	Background string `json:"background"`
	Border     string `json:"border"`
}

// CategoryDetails is the display metadata of a category.
type CategoryDetails struct {
	Category    Category `json:"category"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Colors      Colors   `json:"colors"`
}

var categoryDetails = map[Category]CategoryDetails{
	CategoryLow: {
		Category:    CategoryLow,
		Label:       "Low Burden",
		Description: "This trial schedule is manageable with minimal impact on daily life",
		Colors:      Colors{Text: "text-green-600", Background: "bg-green-50", Border: "border-green-200"},
	},
	CategoryMedium: {
		Category:    CategoryMedium,
		Label:       "Medium Burden",
		Description: "This trial requires moderate time commitment and planning",
		Colors:      Colors{Text: "text-yellow-600", Background: "bg-yellow-50", Border: "border-yellow-200"},
	},
	CategoryHigh: {
		Category:    CategoryHigh,
		Label:       "High Burden",
		Description: "This trial is demanding and may require significant lifestyle adjustments",
		Colors:      Colors{Text: "text-red-600", Background: "bg-red-50", Border: "border-red-200"},
	},
}

// Categories lists every category in ascending order of burden.
func Categories() []Category {
	return []Category{CategoryLow, CategoryMedium, CategoryHigh}
}

// CategoryInfo returns display metadata for c. The second value is false for
// an unknown category.
func CategoryInfo(c Category) (CategoryDetails, bool) {
	d, ok := categoryDetails[c]
	return d, ok
}

// FormatScore renders a score as "n/100".
func FormatScore(score int) string {
	return fmt.Sprintf("%d/100", score)
}
