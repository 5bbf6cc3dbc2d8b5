package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rule is one named predicate with its weight and human-readable label.
type Rule struct {
	Name       string  `yaml:"name" json:"name"`
	Label      string  `yaml:"label" json:"label"`
	Expression string  `yaml:"expression" json:"expression"`
	Weight     float64 `yaml:"weight" json:"weight"`
}

// Catalog is an ordered list of rules. Order decides factor order only;
// scores do not depend on it.
type Catalog struct {
	Name       string             `yaml:"name" json:"name"`
	Version    string             `yaml:"version" json:"version"`
	Thresholds map[string]float64 `yaml:"thresholds" json:"thresholds,omitempty"`
	Rules      []Rule             `yaml:"rules" json:"rules"`
}

// Validate checks names are present and unique and every rule has an expression.
func (c Catalog) Validate() error {
	seen := make(map[string]bool, len(c.Rules))
	for i, r := range c.Rules {
		if r.Name == "" {
			return fmt.Errorf("catalog %s: rule %d has no name", c.Name, i)
		}
		if r.Expression == "" {
			return fmt.Errorf("catalog %s: rule %s has no expression", c.Name, r.Name)
		}
		if seen[r.Name] {
			return fmt.Errorf("catalog %s: duplicate rule %s", c.Name, r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}

// WithWeights returns a copy whose weights come from the given map, keyed by
// rule name. A rule missing from the map weighs 0 but still reports its label
// when it fires.
func (c Catalog) WithWeights(weights map[string]float64) Catalog {
	out := c
	out.Rules = make([]Rule, len(c.Rules))
	for i, r := range c.Rules {
		r.Weight = weights[r.Name]
		out.Rules[i] = r
	}
	return out
}

// Names returns the rule names in catalog order.
func (c Catalog) Names() []string {
	names := make([]string, len(c.Rules))
	for i, r := range c.Rules {
		names[i] = r.Name
	}
	return names
}

// LoadCatalogFile reads a YAML rule catalog.
func LoadCatalogFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, err
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	if c.Name == "" {
		c.Name = path
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}
