package catalog

import "strings"

type Item struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	ImageURL    string  `json:"imageUrl"`
	Price       float64 `json:"price"`
	Category    string  `json:"category"`
}

var garlands = []Item{
	{
		ID:          "jasmine-royal",
		Name:        "Royal Jasmine Grandeur",
		Description: "Hand-picked premium Sambac jasmine with gold accents.",
		ImageURL:    "https://images.unsplash.com/photo-1596434451000-84c8a2cc143d?auto=format&fit=crop&q=80&w=800",
		Price:       120,
		Category:    "Jasmine",
	},
	{
		ID:          "rose-velvet",
		Name:        "Velvet Rose Ombre",
		Description: "Crimson and pink roses layered in a classic V-shape.",
		ImageURL:    "https://images.unsplash.com/photo-1548092372-0d1bd40894a3?auto=format&fit=crop&q=80&w=800",
		Price:       150,
		Category:    "Rose",
	},
	{
		ID:          "marigold-sun",
		Name:        "Golden Sunburst",
		Description: "Vibrant marigold blossoms for prosperity and joy.",
		ImageURL:    "https://images.unsplash.com/photo-1610443428287-43df874d6431?auto=format&fit=crop&q=80&w=800",
		Price:       85,
		Category:    "Marigold",
	},
	{
		ID:          "mixed-divine",
		Name:        "Divine Tapestry",
		Description: "A sophisticated blend of orchids and white lilies.",
		ImageURL:    "https://images.unsplash.com/photo-1526047932273-341f2a7631f9?auto=format&fit=crop&q=80&w=800",
		Price:       195,
		Category:    "Mixed",
	},
}

// Items returns a copy of the catalog in display order.
func Items() []Item {
	out := make([]Item, len(garlands))
	copy(out, garlands)
	return out
}

func Find(id string) (Item, bool) {
	id = strings.TrimSpace(id)
	for _, it := range garlands {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}
