package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Catalog describes what the pipeline looks for: place categories with their
// API types, agenda source pages, and the keyword filter. It is loaded once at
// startup and treated as immutable afterwards.
type Catalog struct {
	// Categories maps a catalog category to the place types searched for it.
	Categories map[string][]string `yaml:"categories"`

	Agenda AgendaConfig `yaml:"agenda"`
}

// AgendaConfig configures the heuristic HTML adapter.
type AgendaConfig struct {
	Sources []string `yaml:"sources"`

	// AllowKeywords and DenyKeywords drive the candidate filter: a text node
	// is accepted only if it contains at least one allow keyword and no deny
	// keyword. Matching is case-insensitive substring matching.
	AllowKeywords []string `yaml:"allow_keywords"`
	DenyKeywords  []string `yaml:"deny_keywords"`

	// MinTitleLen rejects short navigation/boilerplate fragments. Measured in
	// runes; a candidate must be strictly longer than this.
	MinTitleLen int `yaml:"min_title_len"`

	// Defaults written into event records when the source exposes nothing
	// structured.
	DefaultVenue       string `yaml:"default_venue"`
	DefaultDateText    string `yaml:"default_date_text"`
	DefaultDescription string `yaml:"default_description"`
}

// DefaultCatalog returns the built-in catalog used when no YAML file exists.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Categories: map[string][]string{
			"comida":     {"restaurant", "cafe", "bar", "meal_takeaway"},
			"turismo":    {"tourist_attraction", "amusement_park", "zoo"},
			"cultura":    {"museum", "art_gallery"},
			"recreacion": {"park", "stadium", "campground"},
		},
		Agenda: AgendaConfig{
			Sources: []string{
				"https://www.abc.com.py/tag/agenda-cultural/",
				"https://www.ultimahora.com/agenda-cultural-uh",
				"https://www.cultura.gov.py/category/agenda/",
				"https://www.asuncion.live/eventos/lista/",
			},
			AllowKeywords: []string{
				"feria", "concierto", "show", "fiesta", "teatro",
				"música", "arte", "evento", "cine", "festival",
			},
			DenyKeywords: []string{
				"privacidad", "términos", "cookies", "política", "contacto",
			},
			MinTitleLen:        12,
			DefaultVenue:       "Asunción",
			DefaultDateText:    "Consultar sitio",
			DefaultDescription: "Agenda cultural",
		},
	}
}

// LoadCatalog reads the YAML catalog file at path, falling back to the
// built-in defaults when the file does not exist.
func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultCatalog(), nil
		}
		return nil, fmt.Errorf("catalog: read %q: %w", path, err)
	}

	cat := &Catalog{}
	if err := yaml.Unmarshal(b, cat); err != nil {
		return nil, fmt.Errorf("catalog: parse %q: %w", path, err)
	}
	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("catalog: %q: %w", path, err)
	}
	if cat.Agenda.MinTitleLen == 0 {
		cat.Agenda.MinTitleLen = 12
	}
	return cat, nil
}

// Validate checks that the catalog is usable.
func (c *Catalog) Validate() error {
	if len(c.Categories) == 0 {
		return fmt.Errorf("no categories configured")
	}
	for cat, types := range c.Categories {
		if len(types) == 0 {
			return fmt.Errorf("category %q has no place types", cat)
		}
	}
	return nil
}

// CategoryNames returns the configured categories in sorted order, so that
// every sync cycle walks them deterministically.
func (c *Catalog) CategoryNames() []string {
	names := make([]string, 0, len(c.Categories))
	for name := range c.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasCategory reports whether the category is configured.
func (c *Catalog) HasCategory(name string) bool {
	_, ok := c.Categories[name]
	return ok
}
