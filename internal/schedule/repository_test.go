package schedule

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"schedsync/internal/campus"
	"schedsync/internal/discover"
	"schedsync/internal/model"
	"schedsync/internal/settings"
	"schedsync/internal/store"
	"schedsync/internal/transport"
)

const landingURL = "https://college.example.org/9006/"

// pageFetcher serves the landing page and fails anything else.
type pageFetcher struct {
	err   error
	calls atomic.Int32
}

func (f *pageFetcher) Get(_ context.Context, url string) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if url != landingURL {
		return nil, fmt.Errorf("unexpected url %s", url)
	}
	return []byte("<html><body></body></html>"), nil
}

type fakeVariant struct {
	id       model.Campus
	links    []string
	fetchErr error
	parseErr error
	lessons  []model.Lesson
	block    chan struct{}
	started  chan struct{}
}

func (v *fakeVariant) ID() model.Campus { return v.id }

func (v *fakeVariant) Discover(*discover.Document) []string { return v.links }

func (v *fakeVariant) Fetch(ctx context.Context, url string) ([]byte, error) {
	if v.started != nil {
		close(v.started)
		v.started = nil
	}
	if v.block != nil {
		select {
		case <-v.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if v.fetchErr != nil {
		return nil, v.fetchErr
	}
	return []byte(url), nil
}

func (v *fakeVariant) Parse([]byte) ([]model.Lesson, error) {
	if v.parseErr != nil {
		return nil, v.parseErr
	}
	return v.lessons, nil
}

var _ campus.Variant = (*fakeVariant)(nil)

func day(y int, m time.Month, d int) model.Date {
	return model.Date{Year: y, Month: m, Day: d}
}

func lesson(group string, d model.Date, n int, subject string) model.Lesson {
	return model.Lesson{Group: group, Date: d, Number: n, Subject: subject}
}

type fixture struct {
	repo     *Repository
	store    *store.Store
	settings *settings.Store
	fetcher  *pageFetcher
}

func newFixture(t *testing.T, f campus.Fetcher, variants ...campus.Variant) fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "schedule.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	set, err := settings.Open(filepath.Join(dir, "settings.yaml"))
	if err != nil {
		t.Fatalf("settings.Open: %v", err)
	}
	pf, _ := f.(*pageFetcher)
	if f == nil {
		pf = &pageFetcher{}
		f = pf
	}
	repo := New(st, f, set, Options{
		BaseURL:  landingURL,
		DataDir:  dir,
		Variants: variants,
	})
	return fixture{repo: repo, store: st, settings: set, fetcher: pf}
}

func TestUpdateScheduleSuccess(t *testing.T) {
	d := day(2024, 9, 5)
	fx := newFixture(t, nil,
		&fakeVariant{id: model.CampusFirst, links: []string{"a.xlsx"}, lessons: []model.Lesson{lesson("А-31", d, 1, "История")}},
		&fakeVariant{id: model.CampusSecond, links: []string{"b.xlsx"}, lessons: []model.Lesson{lesson("Б-21", d, 2, "Химия")}},
		&fakeVariant{id: model.CampusThird, links: []string{"c.xlsx"}, lessons: []model.Lesson{lesson("В-41", d, 1, "Право")}},
	)

	out := fx.repo.UpdateSchedule(context.Background())
	if out.Status != StatusSuccess {
		t.Fatalf("status = %s, results = %+v", out.Status, out.Results)
	}
	if out.RunID == "" {
		t.Error("empty run id")
	}
	if out.Merged() != 3 {
		t.Errorf("merged = %d, want 3", out.Merged())
	}
	groups, err := fx.repo.Groups(context.Background())
	if err != nil || len(groups) != 3 {
		t.Errorf("groups = %v, %v", groups, err)
	}
	if got := fx.repo.PreviousUpdateResult(); got != string(StatusSuccess) {
		t.Errorf("previous result = %q", got)
	}
	if last, ok := fx.repo.LastOutcome(KindSchedule); !ok || last.RunID != out.RunID {
		t.Errorf("last outcome = %+v, %v", last, ok)
	}
}

func TestUpdateSchedulePartialKeepsHealthyCampuses(t *testing.T) {
	d := day(2024, 9, 5)
	unreachable := &transport.FetchError{URL: "b.xlsx", Kind: transport.KindUnreachable, Err: errors.New("connection refused")}
	fx := newFixture(t, nil,
		&fakeVariant{id: model.CampusFirst, links: []string{"a.xlsx"}, lessons: []model.Lesson{lesson("А-31", d, 1, "История")}},
		&fakeVariant{id: model.CampusSecond, links: []string{"b.xlsx"}, fetchErr: unreachable},
		&fakeVariant{id: model.CampusThird, links: nil},
	)

	out := fx.repo.UpdateSchedule(context.Background())
	if out.Status != StatusPartial {
		t.Fatalf("status = %s, want partial", out.Status)
	}

	second, _ := out.Result(string(model.CampusSecond))
	var fe *transport.FetchError
	if !errors.As(second.Err, &fe) || fe.Kind != transport.KindUnreachable {
		t.Errorf("second err = %v, want unreachable FetchError", second.Err)
	}
	third, _ := out.Result(string(model.CampusThird))
	if !errors.Is(third.Err, ErrNoLinks) {
		t.Errorf("third err = %v, want ErrNoLinks", third.Err)
	}
	if len(out.Failed()) != 2 {
		t.Errorf("failed = %+v", out.Failed())
	}

	got, err := fx.repo.Lessons(context.Background(), "А-31", d)
	if err != nil || len(got) != 1 {
		t.Errorf("first campus lessons = %+v, %v", got, err)
	}
	if got := fx.repo.PreviousUpdateResult(); got != string(StatusPartial) {
		t.Errorf("previous result = %q", got)
	}
}

func TestUpdateScheduleFileWarnings(t *testing.T) {
	d := day(2024, 9, 5)
	good := &fakeVariant{id: model.CampusFirst, links: []string{"a.xlsx", "b.xlsx"}, lessons: []model.Lesson{lesson("А-31", d, 1, "История")}}
	fx := newFixture(t, nil, good)
	if err := fx.settings.Update(func(s *settings.Settings) { s.DownloadFor = "first" }); err != nil {
		t.Fatal(err)
	}

	bad := &fakeVariant{id: model.CampusFirst, links: []string{"a.xlsx"}, parseErr: errors.New("corrupt workbook")}
	fx.repo.variants = []campus.Variant{bad}
	out := fx.repo.UpdateSchedule(context.Background())
	if out.Status != StatusFailure {
		t.Errorf("unparseable only file: status = %s", out.Status)
	}
	res, _ := out.Result(string(model.CampusFirst))
	if len(res.Warnings) != 1 {
		t.Errorf("warnings = %v", res.Warnings)
	}

	fx.repo.variants = []campus.Variant{good}
	out = fx.repo.UpdateSchedule(context.Background())
	if out.Status != StatusSuccess {
		t.Errorf("status = %s", out.Status)
	}
	res, _ = out.Result(string(model.CampusFirst))
	if res.Files != 2 {
		t.Errorf("files = %d, want 2", res.Files)
	}
}

func TestUpdateScheduleLandingFailure(t *testing.T) {
	pf := &pageFetcher{err: &transport.FetchError{URL: landingURL, Kind: transport.KindTimeout, Err: context.DeadlineExceeded}}
	fx := newFixture(t, pf,
		&fakeVariant{id: model.CampusFirst, links: []string{"a.xlsx"}},
		&fakeVariant{id: model.CampusSecond, links: []string{"b.xlsx"}},
	)

	out := fx.repo.UpdateSchedule(context.Background())
	if out.Status != StatusFailure {
		t.Fatalf("status = %s, want failure", out.Status)
	}
	for _, r := range out.Results {
		var fe *transport.FetchError
		if !errors.As(r.Err, &fe) || fe.Kind != transport.KindTimeout {
			t.Errorf("%s err = %v", r.Name, r.Err)
		}
	}
	if pf.calls.Load() != 1 {
		t.Errorf("landing page fetched %d times, want once", pf.calls.Load())
	}
	if got := fx.repo.PreviousUpdateResult(); got != string(StatusFailure) {
		t.Errorf("previous result = %q", got)
	}
}

func TestUpdateScheduleDownloadFor(t *testing.T) {
	d := day(2024, 9, 5)
	fx := newFixture(t, nil,
		&fakeVariant{id: model.CampusFirst, links: []string{"a.xlsx"}, lessons: []model.Lesson{lesson("А-31", d, 1, "История")}},
		&fakeVariant{id: model.CampusSecond, links: []string{"b.xlsx"}, lessons: []model.Lesson{lesson("Б-21", d, 1, "Химия")}},
	)
	if err := fx.settings.Update(func(s *settings.Settings) { s.DownloadFor = "second" }); err != nil {
		t.Fatal(err)
	}

	out := fx.repo.UpdateSchedule(context.Background())
	if len(out.Results) != 1 || out.Results[0].Name != string(model.CampusSecond) {
		t.Fatalf("results = %+v, want second only", out.Results)
	}
	groups, _ := fx.repo.Groups(context.Background())
	if len(groups) != 1 || groups[0] != "Б-21" {
		t.Errorf("groups = %v", groups)
	}
}

func TestUpdateScheduleIsIdempotent(t *testing.T) {
	d := day(2024, 9, 5)
	v := &fakeVariant{id: model.CampusFirst, links: []string{"a.xlsx"}, lessons: []model.Lesson{
		lesson("А-31", d, 1, "История"),
		lesson("А-31", d, 2, "Литература"),
	}}
	fx := newFixture(t, nil, v)
	ctx := context.Background()

	fx.repo.UpdateSchedule(ctx)
	first, _ := fx.repo.Lessons(ctx, "А-31", d)
	fx.repo.UpdateSchedule(ctx)
	second, _ := fx.repo.Lessons(ctx, "А-31", d)
	if len(first) != 2 || len(second) != 2 {
		t.Errorf("rows after runs = %d, %d; want 2, 2", len(first), len(second))
	}
}

func TestUpdateScheduleCanceled(t *testing.T) {
	d := day(2024, 9, 5)
	fx := newFixture(t, nil,
		&fakeVariant{id: model.CampusFirst, links: []string{"a.xlsx"}, lessons: []model.Lesson{lesson("А-31", d, 1, "История")}},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := fx.repo.UpdateSchedule(ctx)
	if out.Status != StatusFailure {
		t.Errorf("status = %s", out.Status)
	}
	groups, _ := fx.repo.Groups(context.Background())
	if len(groups) != 0 {
		t.Errorf("canceled run merged %v", groups)
	}
}

func TestUpdateScheduleCanceledKeepsPreviousResult(t *testing.T) {
	d := day(2024, 9, 5)
	fx := newFixture(t, nil,
		&fakeVariant{id: model.CampusFirst, links: []string{"a.xlsx"}, lessons: []model.Lesson{lesson("А-31", d, 1, "История")}},
	)
	if out := fx.repo.UpdateSchedule(context.Background()); out.Status != StatusSuccess {
		t.Fatalf("first run status = %s", out.Status)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if out := fx.repo.UpdateSchedule(ctx); out.Status != StatusFailure {
		t.Errorf("canceled run status = %s", out.Status)
	}
	if got := fx.repo.PreviousUpdateResult(); got != string(StatusSuccess) {
		t.Errorf("previous result = %q, want %q", got, StatusSuccess)
	}
	if got := fx.settings.Get().PreviousUpdateResult; got != string(StatusSuccess) {
		t.Errorf("stored result = %q, want %q", got, StatusSuccess)
	}
}

func TestUpdateScheduleRejectsOverlap(t *testing.T) {
	d := day(2024, 9, 5)
	slow := &fakeVariant{
		id:      model.CampusFirst,
		links:   []string{"a.xlsx"},
		lessons: []model.Lesson{lesson("А-31", d, 1, "История")},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	started := slow.started
	fx := newFixture(t, nil, slow)

	done := make(chan Outcome)
	go func() { done <- fx.repo.UpdateSchedule(context.Background()) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first run never fetched")
	}
	second := fx.repo.UpdateSchedule(context.Background())
	if !errors.Is(second.Err, ErrSyncRunning) || second.Status != StatusFailure {
		t.Errorf("overlapping run = %+v", second)
	}

	close(slow.block)
	if out := <-done; out.Status != StatusSuccess {
		t.Errorf("first run status = %s", out.Status)
	}
}

func TestWatchLessonsSeesSync(t *testing.T) {
	d := day(2024, 9, 5)
	fx := newFixture(t, nil,
		&fakeVariant{id: model.CampusFirst, links: []string{"a.xlsx"}, lessons: []model.Lesson{lesson("А-31", d, 1, "История")}},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := fx.repo.WatchLessons(ctx, "А-31", d)
	if got := receive(t, ch); len(got) != 0 {
		t.Fatalf("initial = %+v", got)
	}
	fx.repo.UpdateSchedule(ctx)
	if got := receive(t, ch); len(got) != 1 || got[0].Subject != "История" {
		t.Errorf("after sync = %+v", got)
	}
}

func TestWatchNoteSeesDeletion(t *testing.T) {
	fx := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := fx.repo.SaveNote(ctx, model.Note{Group: "А-31", Date: day(2024, 9, 5), Theme: "Эссе"})
	if err != nil {
		t.Fatalf("SaveNote: %v", err)
	}
	ch := fx.repo.WatchNote(ctx, id)
	if n := receive(t, ch); n.Theme != "Эссе" {
		t.Fatalf("initial = %+v", n)
	}
	if _, err := fx.repo.DeleteNotes(ctx, id); err != nil {
		t.Fatalf("DeleteNotes: %v", err)
	}
	if n := receive(t, ch); n.ID != 0 {
		t.Errorf("after delete = %+v, want zero note", n)
	}
}

func TestWatchWeekGroupsByDay(t *testing.T) {
	mon, wed := day(2024, 9, 2), day(2024, 9, 4)
	fx := newFixture(t, nil,
		&fakeVariant{id: model.CampusFirst, links: []string{"a.xlsx"}, lessons: []model.Lesson{
			lesson("А-31", mon, 1, "История"),
			lesson("А-31", wed, 1, "Химия"),
			lesson("А-31", wed, 2, "Право"),
		}},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.repo.UpdateSchedule(ctx)

	week := receive(t, fx.repo.WatchWeek(ctx, "А-31", wed))
	if len(week) != 6 {
		t.Errorf("week has %d days, want 6", len(week))
	}
	if len(week[mon]) != 1 || len(week[wed]) != 2 {
		t.Errorf("week = %+v", week)
	}
}

func TestSavedGroup(t *testing.T) {
	fx := newFixture(t, nil)
	if err := fx.repo.SetSavedGroup("А-31"); err != nil {
		t.Fatalf("SetSavedGroup: %v", err)
	}
	if got := fx.repo.SavedGroup(); got != "А-31" {
		t.Errorf("saved group = %q", got)
	}
}

func TestUpdateReferenceTimes(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg:" + r.URL.Path))
	}))
	defer srv.Close()

	client := transport.New(transport.Options{})
	fx := newFixture(t, client)
	fx.repo.opts.MondayTimesURL = srv.URL + "/monday.jpg"
	fx.repo.opts.OtherTimesURL = srv.URL + "/other.jpg"
	ctx := context.Background()

	out := fx.repo.UpdateReferenceTimes(ctx)
	if out.Status != StatusSuccess {
		t.Fatalf("status = %s, results = %+v", out.Status, out.Results)
	}
	data, err := os.ReadFile(fx.repo.TimesPath(MondayTimesFile))
	if err != nil || string(data) != "jpeg:/monday.jpg" {
		t.Errorf("monday image = %q, %v", data, err)
	}

	if err := fx.settings.Update(func(s *settings.Settings) { s.DoNotUpdateTimes = true }); err != nil {
		t.Fatal(err)
	}
	before := hits.Load()
	out = fx.repo.UpdateReferenceTimes(ctx)
	if out.Status != StatusSuccess || hits.Load() != before {
		t.Errorf("kept images were downloaded again: status %s, hits %d -> %d", out.Status, before, hits.Load())
	}
	if prev := fx.repo.PreviousUpdateResult(); prev != "" {
		t.Errorf("times run touched previous schedule result: %q", prev)
	}

	fx.repo.opts.OtherTimesURL = srv.URL + "/missing.jpg"
	if err := os.Remove(fx.repo.TimesPath(OtherTimesFile)); err != nil {
		t.Fatal(err)
	}
	out = fx.repo.UpdateReferenceTimes(ctx)
	if out.Status != StatusPartial {
		t.Errorf("status = %s, want partial", out.Status)
	}
	res, _ := out.Result(OtherTimesFile)
	var fe *transport.FetchError
	if !errors.As(res.Err, &fe) || fe.StatusCode != http.StatusNotFound {
		t.Errorf("other err = %v", res.Err)
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("watch channel closed")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch result")
	}
	var zero T
	return zero
}
