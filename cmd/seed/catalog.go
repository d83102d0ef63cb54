package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is the seed file layout.
//
//	workshops:
//	  - code: WS-1
//	    name: Press workshop
//	    lines:
//	      - code: L-1
//	        name: Line 1
//	brickTypes:
//	  - code: BT-6060
//	    name: Granite 60x60
//	    type: granite
type Catalog struct {
	Workshops  []WorkshopSeed  `yaml:"workshops"`
	BrickTypes []BrickTypeSeed `yaml:"brickTypes"`
}

// WorkshopSeed is a workshop and the lines it owns.
type WorkshopSeed struct {
	Code        string     `yaml:"code"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Lines       []LineSeed `yaml:"lines"`
}

// LineSeed is a production line inside a workshop.
type LineSeed struct {
	Code        string `yaml:"code"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// BrickTypeSeed is a brick type.
type BrickTypeSeed struct {
	Code        string `yaml:"code"`
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// LoadCatalogFile reads and validates a seed file.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// LoadCatalog decodes and validates a seed document. Unknown keys are
// rejected so a typo does not silently drop data.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("catalog is empty")
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks required fields and duplicate codes. Workshop and brick
// type codes are global; line codes are unique within their workshop.
func (c *Catalog) Validate() error {
	var problems []string
	workshops := make(map[string]bool)
	for i, w := range c.Workshops {
		where := fmt.Sprintf("workshops[%d]", i)
		problems = append(problems, requireFields(where, "code", w.Code, "name", w.Name)...)
		if w.Code != "" && workshops[w.Code] {
			problems = append(problems, fmt.Sprintf("%s: duplicate workshop code %q", where, w.Code))
		}
		workshops[w.Code] = true

		lines := make(map[string]bool)
		for j, l := range w.Lines {
			lineWhere := fmt.Sprintf("%s.lines[%d]", where, j)
			problems = append(problems, requireFields(lineWhere, "code", l.Code, "name", l.Name)...)
			if l.Code != "" && lines[l.Code] {
				problems = append(problems, fmt.Sprintf("%s: duplicate line code %q", lineWhere, l.Code))
			}
			lines[l.Code] = true
		}
	}

	brickTypes := make(map[string]bool)
	for i, b := range c.BrickTypes {
		where := fmt.Sprintf("brickTypes[%d]", i)
		problems = append(problems, requireFields(where, "code", b.Code, "name", b.Name)...)
		if b.Code != "" && brickTypes[b.Code] {
			problems = append(problems, fmt.Sprintf("%s: duplicate brick type code %q", where, b.Code))
		}
		brickTypes[b.Code] = true
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid catalog:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// Counts returns the number of workshops, lines and brick types.
func (c *Catalog) Counts() (workshops, lines, brickTypes int) {
	for _, w := range c.Workshops {
		lines += len(w.Lines)
	}
	return len(c.Workshops), lines, len(c.BrickTypes)
}

func requireFields(where string, pairs ...string) []string {
	var out []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			out = append(out, fmt.Sprintf("%s: %s is required", where, pairs[i]))
		}
	}
	return out
}
