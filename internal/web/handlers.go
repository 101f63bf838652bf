package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"schedsync/internal/dates"
	"schedsync/internal/export"
	appLog "schedsync/internal/log"
	"schedsync/internal/model"
	"schedsync/internal/schedule"
)

// defaultFeedDays is the calendar export window when to is omitted.
const defaultFeedDays = 14

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.repo.Groups(r.Context())
	if err != nil {
		writeStoreError(w, "groups", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"groups": groups})
}

func (s *Server) handleTeachers(w http.ResponseWriter, r *http.Request) {
	teachers, err := s.repo.Teachers(r.Context())
	if err != nil {
		writeStoreError(w, "teachers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"teachers": teachers})
}

func (s *Server) handleSubjects(w http.ResponseWriter, r *http.Request) {
	group, ok := requireParam(w, r, "group")
	if !ok {
		return
	}
	subjects, err := s.repo.Subjects(r.Context(), group)
	if err != nil {
		writeStoreError(w, "subjects", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"subjects": subjects})
}

// handleLessons serves one of:
//
//	GET /api/lessons?group=&date=
//	GET /api/lessons?group=&from=&to=
//	GET /api/lessons?teacher=&date=
//
// date defaults to today in the configured timezone.
func (s *Server) handleLessons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	date, err := dateParam(r, "date", s.today())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var lessons []model.Lesson
	switch {
	case q.Get("teacher") != "":
		lessons, err = s.repo.TeacherLessons(ctx, q.Get("teacher"), date)
	case q.Get("group") != "" && q.Has("from"):
		from, ferr := dateParam(r, "from", date)
		to, terr := dateParam(r, "to", from)
		if err := errors.Join(ferr, terr); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		lessons, err = s.repo.LessonsBetween(ctx, q.Get("group"), from, to)
	case q.Get("group") != "":
		lessons, err = s.repo.Lessons(ctx, q.Get("group"), date)
	default:
		writeError(w, http.StatusBadRequest, "missing group or teacher")
		return
	}
	if err != nil {
		writeStoreError(w, "lessons", err)
		return
	}
	if lessons == nil {
		lessons = []model.Lesson{}
	}
	writeJSON(w, http.StatusOK, map[string][]model.Lesson{"lessons": lessons})
}

type dayDTO struct {
	Date    model.Date     `json:"date"`
	Lessons []model.Lesson `json:"lessons"`
	Notes   int            `json:"notes"`
}

// handleWeek returns Monday through Saturday of the week containing date,
// with each day's lessons and note count.
func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	group, ok := requireParam(w, r, "group")
	if !ok {
		return
	}
	date, err := dateParam(r, "date", s.today())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	week := dates.Week(date)
	lessons, err := s.repo.LessonsBetween(ctx, group, week[0], week[len(week)-1])
	if err != nil {
		writeStoreError(w, "week", err)
		return
	}
	notes, err := s.repo.NotesForDays(ctx, group, week)
	if err != nil {
		writeStoreError(w, "week", err)
		return
	}

	days := make([]dayDTO, len(week))
	index := make(map[model.Date]int, len(week))
	for i, d := range week {
		days[i] = dayDTO{Date: d, Lessons: []model.Lesson{}}
		index[d] = i
	}
	for _, l := range lessons {
		if i, ok := index[l.Date]; ok {
			days[i].Lessons = append(days[i].Lessons, l)
		}
	}
	for _, n := range notes {
		if i, ok := index[n.Date]; ok {
			days[i].Notes++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"group": group, "days": days})
}

// handleWatchLessons streams the group's lessons on date as server-sent
// events, one event per change, until the client disconnects.
func (s *Server) handleWatchLessons(w http.ResponseWriter, r *http.Request) {
	group, ok := requireParam(w, r, "group")
	if !ok {
		return
	}
	date, err := dateParam(r, "date", s.today())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	appLog.Debug("watch lessons start", "group", group, "date", date)
	for lessons := range s.repo.WatchLessons(r.Context(), group, date) {
		if lessons == nil {
			lessons = []model.Lesson{}
		}
		data, err := json.Marshal(lessons)
		if err != nil {
			appLog.Error("watch lessons encode failed", err)
			return
		}
		if _, err := fmt.Fprintf(w, "event: lessons\ndata: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
	appLog.Debug("watch lessons end", "group", group, "date", date)
}

// handleCalendar serves an iCalendar feed for group over [from, to].
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	group, ok := requireParam(w, r, "group")
	if !ok {
		return
	}
	from, err := dateParam(r, "from", s.today())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	days := parseIntDefault(r.URL.Query().Get("days"), defaultFeedDays)
	if days <= 0 {
		days = defaultFeedDays
	}
	to, err := dateParam(r, "to", from.AddDays(days-1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	lessons, err := s.repo.LessonsBetween(r.Context(), group, from, to)
	if err != nil {
		writeStoreError(w, "calendar", err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="schedule.ics"`)
	_, _ = w.Write([]byte(export.Feed(group, lessons, s.loc, s.now())))
}

// handleNotes serves one of:
//
//	GET /api/notes?id=
//	GET /api/notes?group=&keyword=
//	GET /api/notes?group=&date=
func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if raw := q.Get("id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid id")
			return
		}
		note, err := s.repo.Note(ctx, id)
		if err != nil {
			writeStoreError(w, "note", err)
			return
		}
		writeJSON(w, http.StatusOK, note)
		return
	}

	group, ok := requireParam(w, r, "group")
	if !ok {
		return
	}
	var (
		notes []model.Note
		err   error
	)
	if keyword := q.Get("keyword"); keyword != "" {
		notes, err = s.repo.NotesByKeyword(ctx, group, keyword)
	} else {
		date, derr := dateParam(r, "date", s.today())
		if derr != nil {
			writeError(w, http.StatusBadRequest, derr.Error())
			return
		}
		notes, err = s.repo.NotesFor(ctx, group, date)
	}
	if err != nil {
		writeStoreError(w, "notes", err)
		return
	}
	if notes == nil {
		notes = []model.Note{}
	}
	writeJSON(w, http.StatusOK, map[string][]model.Note{"notes": notes})
}

func decodeNote(w http.ResponseWriter, r *http.Request) (model.Note, bool) {
	var n model.Note
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid note: "+err.Error())
		return n, false
	}
	if strings.TrimSpace(n.Group) == "" || n.Date.IsZero() {
		writeError(w, http.StatusBadRequest, "note needs group and date")
		return n, false
	}
	return n, true
}

func (s *Server) handleSaveNote(w http.ResponseWriter, r *http.Request) {
	n, ok := decodeNote(w, r)
	if !ok {
		return
	}
	id, err := s.repo.SaveNote(r.Context(), n)
	if err != nil {
		writeStoreError(w, "save note", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	n, ok := decodeNote(w, r)
	if !ok {
		return
	}
	if n.ID == 0 {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	if err := s.repo.UpdateNote(r.Context(), n); err != nil {
		writeStoreError(w, "update note", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": n.ID})
}

// handleDeleteNotes removes every note named by a repeated id parameter.
func (s *Server) handleDeleteNotes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query()["id"]
	if len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	ids := make([]int64, 0, len(raw))
	for _, v := range raw {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid id "+v)
			return
		}
		ids = append(ids, id)
	}
	n, err := s.repo.DeleteNotes(r.Context(), ids...)
	if err != nil {
		writeStoreError(w, "delete notes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// handleSync runs one schedule sync and returns its outcome. It is not
// tied to the request context so a disconnecting client does not leave a
// half-synced campus.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	out := s.repo.UpdateSchedule(context.WithoutCancel(r.Context()))
	writeOutcome(w, out)
}

func (s *Server) handleTimesSync(w http.ResponseWriter, r *http.Request) {
	out := s.repo.UpdateReferenceTimes(context.WithoutCancel(r.Context()))
	writeOutcome(w, out)
}

func writeOutcome(w http.ResponseWriter, out schedule.Outcome) {
	status := http.StatusOK
	switch {
	case errors.Is(out.Err, schedule.ErrSyncRunning):
		status = http.StatusConflict
	case out.Status == schedule.StatusFailure:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, out)
}

// handleTimesImage serves a downloaded reference image.
func (s *Server) handleTimesImage(w http.ResponseWriter, r *http.Request) {
	var file string
	switch r.PathValue("name") {
	case "monday":
		file = schedule.MondayTimesFile
	case "other":
		file = schedule.OtherTimesFile
	default:
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, s.repo.TimesPath(file))
}

type statusResponse struct {
	PreviousUpdateResult string            `json:"previous_update_result"`
	Schedule             *schedule.Outcome `json:"schedule,omitempty"`
	Times                *schedule.Outcome `json:"times,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{PreviousUpdateResult: s.repo.PreviousUpdateResult()}
	if out, ok := s.repo.LastOutcome(schedule.KindSchedule); ok {
		resp.Schedule = &out
	}
	if out, ok := s.repo.LastOutcome(schedule.KindTimes); ok {
		resp.Times = &out
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeError(w, http.StatusNotFound, "update check disabled")
		return
	}
	res, err := s.checker.Check(r.Context())
	if err != nil {
		appLog.Error("api update check failed", err)
		writeError(w, http.StatusBadGateway, "update check failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type groupSetting struct {
	Group string `json:"group"`
}

func (s *Server) handleGetGroup(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, groupSetting{Group: s.repo.SavedGroup()})
}

func (s *Server) handlePutGroup(w http.ResponseWriter, r *http.Request) {
	var body groupSetting
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := s.repo.SetSavedGroup(strings.TrimSpace(body.Group)); err != nil {
		writeStoreError(w, "save group", err)
		return
	}
	writeJSON(w, http.StatusOK, groupSetting{Group: s.repo.SavedGroup()})
}
