// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Program describes one BASIC listing found in the scanned book.
// The record is immutable once loaded from programs.json.
type Program struct {
	// Name is the program title as printed in the book (e.g. "Lunar Lander").
	Name string `json:"name" yaml:"name"`

	// Pages lists the scan pages carrying the listing, in source-assembly
	// order. Duplicates and ordering are meaningful: the extraction call
	// receives page images in exactly this order.
	Pages []int `json:"pages" yaml:"pages"`

	// Description is an optional one-line summary from the location pass.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

var slugStrip = regexp.MustCompile(`[^\w\s-]`)
var slugDash = regexp.MustCompile(`[-\s]+`)

// Slug derives a filesystem-safe identifier from the program name
// (e.g. "Lunar Lander!" -> "lunar-lander").
func (p Program) Slug() string {
	s := slugStrip.ReplaceAllString(p.Name, "")
	s = strings.TrimSpace(s)
	s = slugDash.ReplaceAllString(s, "-")
	return strings.ToLower(s)
}

// Validate checks the descriptor invariants: non-empty name, at least one
// page, every page a positive integer.
func (p Program) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("program has empty name")
	}
	if len(p.Pages) == 0 {
		return fmt.Errorf("program %q lists no pages", p.Name)
	}
	for _, page := range p.Pages {
		if page < 1 {
			return fmt.Errorf("program %q lists invalid page %d", p.Name, page)
		}
	}
	return nil
}

// ProgramList is the fixed external schema for the location pass output:
// a JSON document with a top-level "programs" array.
type ProgramList struct {
	Programs []Program `json:"programs" yaml:"programs"`
}

// Validate checks every program in the list.
func (l ProgramList) Validate() error {
	for _, p := range l.Programs {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// UniquePages returns the sorted union of pages required by all programs.
func (l ProgramList) UniquePages() []int {
	seen := make(map[int]bool)
	var pages []int
	for _, p := range l.Programs {
		for _, page := range p.Pages {
			if !seen[page] {
				seen[page] = true
				pages = append(pages, page)
			}
		}
	}
	sort.Ints(pages)
	return pages
}
