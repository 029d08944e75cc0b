package locations

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/etekaf/backend/internal/models"
)

// Catalog is the set of provinces, cities and venues a registrant may choose from.
type Catalog struct {
	Provinces []models.Province `json:"provinces"`
}

// Default is the single fixed venue deployment.
func Default() *Catalog {
	return &Catalog{Provinces: []models.Province{{
		Name: "Isfahan",
		Cities: []models.City{{
			Name:   "Semirom",
			Venues: []models.Venue{{Name: "Fatemeh Zahra Mosque - Abshar"}},
		}},
	}}}
}

// Load reads a catalog from a JSON file. An empty path returns Default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locations file: %w", err)
	}
	var c Catalog
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse locations file: %w", err)
	}
	if len(c.Provinces) == 0 {
		return nil, fmt.Errorf("locations file %s has no provinces", path)
	}
	return &c, nil
}

// Contains reports whether the venue exists in that city of that province.
func (c *Catalog) Contains(province, city, venue string) bool {
	for _, p := range c.Provinces {
		if p.Name != province {
			continue
		}
		for _, ct := range p.Cities {
			if ct.Name != city {
				continue
			}
			for _, v := range ct.Venues {
				if v.Name == venue {
					return true
				}
			}
		}
	}
	return false
}

// Single returns the only venue when the catalog holds exactly one, so forms can omit location fields.
func (c *Catalog) Single() (province, city, venue string, ok bool) {
	if len(c.Provinces) != 1 || len(c.Provinces[0].Cities) != 1 || len(c.Provinces[0].Cities[0].Venues) != 1 {
		return "", "", "", false
	}
	p := c.Provinces[0]
	return p.Name, p.Cities[0].Name, p.Cities[0].Venues[0].Name, true
}
