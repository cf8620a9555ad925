// Package seed loads YAML taxonomy definitions and turns them into
// structure snapshots for the SQL generator and the workbook writers.
//
// A seed file declares areas, their nested category tree, and the
// attributes each category captures:
//
//	areas:
//	  - name: Training
//	    icon: "💪"
//	    categories:
//	      - name: Cardio
//	        attributes:
//	          - name: Duration
//	            type: number
//	            unit: minutes
//	            required: true
//	            min: 1
//	            max: 600
//	        children:
//	          - name: Running
//
// IDs are never part of a seed; Snapshot generates fresh UUIDs so the
// same file can provision any number of databases.
package seed

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"taxotrack/internal/core"
)

// File is the root of a seed document.
type File struct {
	Areas []Area `yaml:"areas"`
}

// Area seeds one top-level area and its category tree.
type Area struct {
	Name        string     `yaml:"name"`
	Icon        string     `yaml:"icon,omitempty"`
	Color       string     `yaml:"color,omitempty"`
	Description string     `yaml:"description,omitempty"`
	Categories  []Category `yaml:"categories,omitempty"`
}

// Category seeds one category. Children may nest up to
// core.MaxCategoryLevel deep.
type Category struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description,omitempty"`
	Attributes  []Attribute `yaml:"attributes,omitempty"`
	Children    []Category  `yaml:"children,omitempty"`
}

// Attribute seeds one attribute definition.
type Attribute struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Unit     string   `yaml:"unit,omitempty"`
	Required bool     `yaml:"required,omitempty"`
	Default  string   `yaml:"default,omitempty"`
	Min      *float64 `yaml:"min,omitempty"`
	Max      *float64 `yaml:"max,omitempty"`
}

// Parse decodes and validates a seed document.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("seed file is empty")
		}
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// ParseFile reads and validates a seed document from disk.
func ParseFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer fh.Close()

	f, err := Parse(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Validate checks the whole document and reports every problem at once.
func (f *File) Validate() error {
	var errs []string

	if len(f.Areas) == 0 {
		errs = append(errs, "no areas defined")
	}
	seen := map[string]bool{}
	for i := range f.Areas {
		a := &f.Areas[i]
		where := fmt.Sprintf("areas[%d]", i)
		if a.Name == "" {
			errs = append(errs, where+": name is required")
		} else {
			where = fmt.Sprintf("area %q", a.Name)
			if seen[a.Name] {
				errs = append(errs, where+": duplicate area name")
			}
			seen[a.Name] = true
		}
		validateCategories(&errs, where, a.Categories, 1)
	}

	if len(errs) > 0 {
		return fmt.Errorf("seed validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateCategories(errs *[]string, where string, cats []Category, level int) {
	if len(cats) > 0 && level > core.MaxCategoryLevel {
		*errs = append(*errs, fmt.Sprintf("%s: categories nest deeper than %d levels", where, core.MaxCategoryLevel))
		return
	}
	seen := map[string]bool{}
	for i := range cats {
		c := &cats[i]
		cw := fmt.Sprintf("%s > categories[%d]", where, i)
		if c.Name == "" {
			*errs = append(*errs, cw+": name is required")
		} else {
			cw = fmt.Sprintf("%s > %q", where, c.Name)
			if seen[c.Name] {
				*errs = append(*errs, cw+": duplicate category name")
			}
			seen[c.Name] = true
		}
		validateAttributes(errs, cw, c.Attributes)
		validateCategories(errs, cw, c.Children, level+1)
	}
}

func validateAttributes(errs *[]string, where string, attrs []Attribute) {
	seen := map[string]bool{}
	for i := range attrs {
		ad := &attrs[i]
		aw := fmt.Sprintf("%s > attributes[%d]", where, i)
		if ad.Name == "" {
			*errs = append(*errs, aw+": name is required")
		} else {
			aw = fmt.Sprintf("%s > attribute %q", where, ad.Name)
			if seen[ad.Name] {
				*errs = append(*errs, aw+": duplicate attribute name")
			}
			seen[ad.Name] = true
		}
		if ad.Type == "" {
			*errs = append(*errs, aw+": type is required")
		} else if _, ok := core.ParseDataType(ad.Type); !ok {
			*errs = append(*errs, fmt.Sprintf("%s: unknown data type %q", aw, ad.Type))
		}
		if ad.Min != nil && ad.Max != nil && *ad.Min > *ad.Max {
			*errs = append(*errs, fmt.Sprintf("%s: min %v exceeds max %v", aw, *ad.Min, *ad.Max))
		}
	}
}

// Snapshot converts the document into a structure snapshot with fresh
// UUIDs. Sort orders follow declaration order, levels follow nesting.
func (f *File) Snapshot() (*core.Snapshot, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var (
		areas []core.Area
		cats  []core.Category
		attrs []core.AttributeDefinition
	)
	for i := range f.Areas {
		src := &f.Areas[i]
		area := core.Area{
			ID:          uuid.New(),
			Name:        src.Name,
			Icon:        src.Icon,
			Color:       src.Color,
			SortOrder:   i + 1,
			Description: src.Description,
		}
		if area.Icon == "" {
			area.Icon = core.DefaultAreaIcon
		}
		if area.Color == "" {
			area.Color = core.DefaultAreaColor
		}
		areas = append(areas, area)
		buildCategories(&cats, &attrs, area.ID, nil, 1, src.Categories)
	}
	return core.NewSnapshot(areas, cats, attrs), nil
}

func buildCategories(cats *[]core.Category, attrs *[]core.AttributeDefinition, areaID uuid.UUID, parentID *uuid.UUID, level int, src []Category) {
	for i := range src {
		c := &src[i]
		id := uuid.New()
		*cats = append(*cats, core.Category{
			ID:          id,
			AreaID:      areaID,
			ParentID:    parentID,
			Name:        c.Name,
			Level:       level,
			SortOrder:   i + 1,
			Description: c.Description,
		})
		for j := range c.Attributes {
			ad := &c.Attributes[j]
			dt, _ := core.ParseDataType(ad.Type)
			*attrs = append(*attrs, core.AttributeDefinition{
				ID:           uuid.New(),
				CategoryID:   id,
				Name:         ad.Name,
				DataType:     dt,
				Unit:         ad.Unit,
				IsRequired:   ad.Required,
				DefaultValue: ad.Default,
				Rules:        core.ValidationRules{Min: ad.Min, Max: ad.Max},
				SortOrder:    j + 1,
			})
		}
		pid := id
		buildCategories(cats, attrs, areaID, &pid, level+1, c.Children)
	}
}
