// Package schedule is the repository facade: it sequences discovery,
// download, parsing and merging for every campus, records the outcome of
// each run and exposes the live read surface over the store.
package schedule

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"schedsync/internal/campus"
	"schedsync/internal/discover"
	appLog "schedsync/internal/log"
	"schedsync/internal/model"
	"schedsync/internal/settings"
	"schedsync/internal/store"
)

const defaultWorkers = 3

// Options configures a Repository.
type Options struct {
	// BaseURL is the landing page listing every campus's schedule files.
	BaseURL string
	// MondayTimesURL and OtherTimesURL are the class-period reference
	// images.
	MondayTimesURL string
	OtherTimesURL  string
	// DataDir receives the downloaded reference images.
	DataDir string
	// Workers bounds how many campuses sync at once.
	Workers int
	// Variants overrides the campus strategies; nil means campus.All.
	Variants []campus.Variant
	// Now is the clock used for outcome timestamps.
	Now func() time.Time
}

// Repository coordinates syncs and serves reads.
type Repository struct {
	store    *store.Store
	fetcher  campus.Fetcher
	settings *settings.Store
	opts     Options
	variants []campus.Variant

	running map[Kind]*atomic.Bool

	mu   sync.RWMutex
	last map[Kind]Outcome
}

// New builds a Repository over st, downloading through f.
func New(st *store.Store, f campus.Fetcher, set *settings.Store, opts Options) *Repository {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	variants := opts.Variants
	if variants == nil {
		variants = campus.All(f)
	}
	return &Repository{
		store:    st,
		fetcher:  f,
		settings: set,
		opts:     opts,
		variants: variants,
		running: map[Kind]*atomic.Bool{
			KindSchedule: {},
			KindTimes:    {},
		},
		last: make(map[Kind]Outcome),
	}
}

// UpdateSchedule runs discover, fetch, parse and merge for every selected
// campus. Campuses run concurrently on a bounded pool and fail
// independently; each campus is merged in one transaction. A cancelled ctx
// stops further merges while already merged campuses stay committed.
func (r *Repository) UpdateSchedule(ctx context.Context) Outcome {
	out := r.begin(KindSchedule)
	flag := r.running[KindSchedule]
	if !flag.CompareAndSwap(false, true) {
		out.Err = ErrSyncRunning
		out.settle(r.opts.Now())
		return out
	}
	defer flag.Store(false)

	variants := r.selectedVariants()
	appLog.Info("schedule sync start", "run", out.RunID, "campuses", len(variants))

	results := make([]Result, len(variants))
	doc, err := r.landingPage(ctx)
	if err != nil {
		for i, v := range variants {
			results[i] = Result{Name: string(v.ID())}
			results[i].fail(err)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(r.opts.Workers)
		for i, v := range variants {
			g.Go(func() error {
				results[i] = r.syncCampus(ctx, doc, v)
				return nil
			})
		}
		_ = g.Wait()
	}

	out.Results = results
	out.settle(r.opts.Now())
	r.record(ctx, out)
	return out
}

func (r *Repository) landingPage(ctx context.Context) (*discover.Document, error) {
	base, err := url.Parse(r.opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("landing page url: %w", err)
	}
	body, err := r.fetcher.Get(ctx, r.opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("landing page: %w", err)
	}
	doc, err := discover.Decode(bytes.NewReader(body), base)
	if err != nil {
		return nil, fmt.Errorf("landing page: %w", err)
	}
	return doc, nil
}

func (r *Repository) syncCampus(ctx context.Context, doc *discover.Document, v campus.Variant) Result {
	res := Result{Name: string(v.ID())}

	links := v.Discover(doc)
	if len(links) == 0 {
		res.fail(ErrNoLinks)
		appLog.Error("campus sync failed", ErrNoLinks, "campus", v.ID())
		return res
	}

	var (
		lessons []model.Lesson
		errs    []error
	)
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			res.fail(err)
			return res
		}
		data, err := v.Fetch(ctx, link)
		if err != nil {
			errs = append(errs, err)
			res.warn(err)
			continue
		}
		parsed, err := v.Parse(data)
		if err != nil {
			err = fmt.Errorf("parse %s: %w", appLog.RedactURL(link), err)
			errs = append(errs, err)
			res.warn(err)
			continue
		}
		res.Files++
		lessons = append(lessons, parsed...)
	}

	if res.Files == 0 {
		res.fail(errors.Join(errs...))
		appLog.Error("campus sync failed", res.Err, "campus", v.ID(), "links", len(links))
		return res
	}
	if err := ctx.Err(); err != nil {
		res.fail(err)
		return res
	}

	merged, err := r.store.MergeLessons(ctx, lessons)
	if err != nil {
		res.fail(fmt.Errorf("merge: %w", err))
		appLog.Error("campus merge failed", err, "campus", v.ID())
		return res
	}
	res.Lessons = merged
	appLog.Info("campus synced", "campus", v.ID(), "files", res.Files, "lessons", merged, "warnings", len(res.Warnings))
	return res
}

// selectedVariants applies the download_for setting.
func (r *Repository) selectedVariants() []campus.Variant {
	want := map[model.Campus]bool{}
	for _, c := range r.settings.Get().Campuses() {
		want[c] = true
	}
	out := make([]campus.Variant, 0, len(r.variants))
	for _, v := range r.variants {
		if want[v.ID()] {
			out = append(out, v)
		}
	}
	return out
}

func (r *Repository) begin(kind Kind) Outcome {
	return Outcome{
		RunID:   uuid.NewString(),
		Kind:    kind,
		Started: r.opts.Now(),
	}
}

// record keeps out as the last run of its kind. Schedule runs also persist
// their status, except a run cut short by cancellation, which leaves the
// previous result in place.
func (r *Repository) record(ctx context.Context, out Outcome) {
	r.mu.Lock()
	r.last[out.Kind] = out
	r.mu.Unlock()

	appLog.Info("sync finished", "run", out.RunID, "kind", out.Kind, "status", out.Status,
		"merged", out.Merged(), "failed", len(out.Failed()), "took", out.Finished.Sub(out.Started))

	if out.Kind != KindSchedule || errors.Is(ctx.Err(), context.Canceled) {
		return
	}
	if err := r.settings.Update(func(s *settings.Settings) {
		s.PreviousUpdateResult = string(out.Status)
	}); err != nil {
		appLog.Error("save update result failed", err)
	}
}

// LastOutcome returns the most recent finished run of kind.
func (r *Repository) LastOutcome(kind Kind) (Outcome, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out, ok := r.last[kind]
	return out, ok
}

// PreviousUpdateResult returns the status of the last schedule sync, also
// across restarts.
func (r *Repository) PreviousUpdateResult() string {
	return r.settings.Get().PreviousUpdateResult
}

// SavedGroup returns the selected group.
func (r *Repository) SavedGroup() string {
	return r.settings.SavedGroup()
}

// SetSavedGroup persists the selected group.
func (r *Repository) SetSavedGroup(group string) error {
	return r.settings.SetSavedGroup(group)
}
