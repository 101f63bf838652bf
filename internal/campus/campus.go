// Package campus holds one strategy per campus. Each knows where its
// schedule files are listed on the landing page, how to download them and
// which sheet layout to read them with.
package campus

import (
	"context"
	"fmt"
	"time"

	"schedsync/internal/discover"
	"schedsync/internal/model"
	"schedsync/internal/sheet"
)

// Fetcher downloads a remote resource. *transport.Client implements it.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Variant is the per-campus pipeline the orchestrator drives.
type Variant interface {
	ID() model.Campus
	// Discover lists schedule file URLs for the campus. It never returns
	// nil.
	Discover(doc *discover.Document) []string
	Fetch(ctx context.Context, url string) ([]byte, error)
	Parse(data []byte) ([]model.Lesson, error)
}

const (
	mainHeading  = "Расписание занятий и объявления:"
	thirdHeading = "Расписание третьего корпуса"
)

// sections maps each campus to its block on the landing page.
var sections = map[model.Campus]discover.Section{
	model.CampusFirst:  {Heading: mainHeading, Cell: 0},
	model.CampusSecond: {Heading: mainHeading, Cell: 1},
	model.CampusThird:  {Heading: thirdHeading, Cell: -1},
}

type variant struct {
	id      model.Campus
	section discover.Section
	fetcher Fetcher
	now     func() time.Time
}

// New returns the variant for id.
func New(id model.Campus, f Fetcher) (Variant, error) {
	sec, ok := sections[id]
	if !ok {
		return nil, fmt.Errorf("unknown campus %q", id)
	}
	return &variant{id: id, section: sec, fetcher: f, now: time.Now}, nil
}

// For returns the variants for ids in order, skipping unknown ones.
func For(f Fetcher, ids ...model.Campus) []Variant {
	out := make([]Variant, 0, len(ids))
	for _, id := range ids {
		if v, err := New(id, f); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// All returns a variant for every known campus.
func All(f Fetcher) []Variant {
	return For(f, model.Campuses...)
}

func (v *variant) ID() model.Campus { return v.id }

func (v *variant) Discover(doc *discover.Document) []string {
	return doc.Links(v.section)
}

func (v *variant) Fetch(ctx context.Context, url string) ([]byte, error) {
	return v.fetcher.Get(ctx, url)
}

func (v *variant) Parse(data []byte) ([]model.Lesson, error) {
	return sheet.ParseAt(data, v.id, v.now())
}
