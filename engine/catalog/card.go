package catalog

import "fmt"

// Card is the UI-facing projection of a record, attached to chat responses
// as a suggestion. Built fresh per response, never cached.
type Card struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Price       string `json:"price,omitempty"`
	Duration    string `json:"duration,omitempty"`
	Type        string `json:"type,omitempty"`
	URL         string `json:"url,omitempty"`
}

// CardFromRecord maps a record into card shape. Records without an id or a
// name cannot be rendered and fail the mapping; the caller drops them.
func CardFromRecord(r Record) (Card, error) {
	if r.ID == "" {
		return Card{}, fmt.Errorf("catalog: record has no id")
	}
	name := r.Name()
	if name == "" {
		return Card{}, fmt.Errorf("catalog: record %s has no name", r.ID)
	}
	return Card{
		ID:          r.ID,
		Name:        name,
		Description: r.Description(),
		ImageURL:    r.ImageURL(),
		Price:       r.Price(),
		Duration:    r.Duration(),
		Type:        r.Type(),
		URL:         r.URL(),
	}, nil
}
