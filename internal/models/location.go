package models

// Venue is a place registrants attend. Capacity 0 means unlimited.
type Venue struct {
	Name     string `json:"name"`
	Address  string `json:"address,omitempty"`
	Capacity int    `json:"capacity,omitempty"`
}

// City groups venues.
type City struct {
	Name   string  `json:"name"`
	Venues []Venue `json:"venues"`
}

// Province groups cities.
type Province struct {
	Name   string `json:"name"`
	Cities []City `json:"cities"`
}
