package sheet

import (
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"schedsync/internal/model"
)

type fixtureSheet struct {
	name   string
	cells  map[[2]int]any // {row, col}, 0-based
	hidden []int          // 0-based rows
}

func buildWorkbook(t *testing.T, sheets ...fixtureSheet) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.name); err != nil {
				t.Fatalf("SetSheetName: %v", err)
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			t.Fatalf("NewSheet: %v", err)
		}
		for pos, v := range s.cells {
			cell, err := excelize.CoordinatesToCellName(pos[1]+1, pos[0]+1)
			if err != nil {
				t.Fatalf("CoordinatesToCellName: %v", err)
			}
			if err := f.SetCellValue(s.name, cell, v); err != nil {
				t.Fatalf("SetCellValue: %v", err)
			}
		}
		for _, r := range s.hidden {
			if err := f.SetRowVisible(s.name, r+1, false); err != nil {
				t.Fatalf("SetRowVisible: %v", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

func day(y int, m time.Month, d int) model.Date {
	return model.Date{Year: y, Month: m, Day: d}
}

func assertLessons(t *testing.T, got, want []model.Lesson) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d lessons, want %d:\n%+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("lesson %d:\n got  %+v\n want %+v", i, got[i], want[i])
		}
	}
}

func TestParseFirstCampus(t *testing.T) {
	data := buildWorkbook(t, fixtureSheet{
		name: "5 сентября 2024",
		cells: map[[2]int]any{
			{3, 0}: "День недели",
			{3, 2}: "А 31",
			{3, 6}: "Б12",
			{5, 1}: "служебная строка",

			{6, 1}: 1,
			{7, 1}: "8:30 -10:00",
			{6, 2}: "Математика",
			{7, 2}: "(лек.)",
			{8, 2}: "Иванов  И.И./",
			{6, 5}: "204 /",
			{7, 5}: "3",
			{6, 6}: "Физика",
			{8, 6}: "Петров П.П.",
			{6, 9}: "101",

			{10, 1}: 2,
			{11, 1}: "10:10-11:40",
			{10, 6}: "Химия",
			{12, 6}: "Сидорова",
			{10, 9}: "102",
		},
		hidden: []int{5},
	})

	got, err := ParseAt(data, model.CampusFirst, time.Now())
	if err != nil {
		t.Fatalf("ParseAt: %v", err)
	}

	d := day(2024, time.September, 5)
	assertLessons(t, got, []model.Lesson{
		{Group: "А-31", Date: d, Number: 1, Subject: "Математика", Type: "лек.", Teacher: "Иванов И.И.", Room: "204/3", Times: "08:30-10:00"},
		{Group: "Б-12", Date: d, Number: 1, Subject: "Физика", Teacher: "Петров П.П.", Room: "101", Times: "08:30-10:00"},
		{Group: "А-31", Date: d, Number: 2, Times: "10:10-11:40"},
		{Group: "Б-12", Date: d, Number: 2, Subject: "Химия", Teacher: "Сидорова", Room: "102", Times: "10:10-11:40"},
	})
}

func TestParseFirstCampusSkipsNonDateSheets(t *testing.T) {
	data := buildWorkbook(t,
		fixtureSheet{name: "Титул", cells: map[[2]int]any{{3, 2}: "А-31", {6, 1}: 1, {6, 2}: "X"}},
		fixtureSheet{name: "6 сентября 2024", cells: map[[2]int]any{
			{3, 2}: "А-31",
			{5, 1}: 1,
			{5, 2}: "История",
		}},
	)

	got, err := ParseAt(data, model.CampusFirst, time.Now())
	if err != nil {
		t.Fatalf("ParseAt: %v", err)
	}
	assertLessons(t, got, []model.Lesson{
		{Group: "А-31", Date: day(2024, time.September, 6), Number: 1, Subject: "История"},
	})
}

func TestParseSecondCampus(t *testing.T) {
	data := buildWorkbook(t, fixtureSheet{
		name: "05.09",
		cells: map[[2]int]any{
			{3, 2}: "Б12",
			{3, 5}: "Б13",

			{5, 1}: 1,
			{6, 1}: "9:00-10:30",
			{5, 2}: "Английский язык (пр.)",
			{6, 2}: "Смирнова А.А.",
			{5, 4}: "12",
			{5, 5}: "Физкультура",
			{5, 8}: "7 / 2",

			{7, 1}: 2,
			{8, 1}: "10:40-12:10",
			{7, 5}: "Информатика",
			{8, 5}: "Орлов",
			{7, 7}: "15",

			{9, 2}:  "Б 12",
			{9, 5}:  "Б 13",
			{11, 1}: 3,
			{11, 2}: "после подвала",
		},
	})

	now := time.Date(2024, time.September, 1, 12, 0, 0, 0, time.UTC)
	got, err := ParseAt(data, model.CampusSecond, now)
	if err != nil {
		t.Fatalf("ParseAt: %v", err)
	}

	d := day(2024, time.September, 5)
	assertLessons(t, got, []model.Lesson{
		{Group: "Б-12", Date: d, Number: 1, Subject: "Английский язык", Type: "пр.", Teacher: "Смирнова А.А.", Room: "12", Times: "09:00-10:30"},
		{Group: "Б-13", Date: d, Number: 1, Subject: "Физкультура", Room: "7/2", Times: "09:00-10:30"},
		{Group: "Б-12", Date: d, Number: 2, Times: "10:40-12:10"},
		{Group: "Б-13", Date: d, Number: 2, Subject: "Информатика", Teacher: "Орлов", Room: "15", Times: "10:40-12:10"},
	})
}

func TestParseThirdCampus(t *testing.T) {
	data := buildWorkbook(t, fixtureSheet{
		name: "Расписание",
		cells: map[[2]int]any{
			{0, 0}: "Расписание третьего корпуса",
			{1, 0}: "Дата", {1, 1}: "Группа", {1, 2}: "№", {1, 3}: "Время",
			{1, 4}: "Дисциплина", {1, 5}: "Преподаватель", {1, 6}: "Аудитория",

			{2, 0}: "пн 02.09.24", {2, 1}: "В 41", {2, 2}: 1, {2, 3}: "8:30-10:00",
			{2, 4}: "Право (лек.)", {2, 5}: "Козлов", {2, 6}: "11",

			{3, 1}: "В-41", {3, 2}: 2, {3, 4}: "Экономика", {3, 5}: "Козлов", {3, 6}: "12",

			{4, 0}: "31.02.24", {4, 1}: "В-41", {4, 2}: 1, {4, 4}: "Невалидная дата",
			{5, 1}: "В-41", {5, 2}: 2, {5, 4}: "Наследует невалидную дату",

			{6, 0}: "вт 03.09.24", {6, 1}: "В-41", {6, 2}: "x", {6, 4}: "Без номера",
			{7, 0}: "вт 03.09.24", {7, 1}: "В-42", {7, 2}: 1, {7, 4}: "Право",
		},
	})

	got, err := ParseAt(data, model.CampusThird, time.Now())
	if err != nil {
		t.Fatalf("ParseAt: %v", err)
	}

	mon := day(2024, time.September, 2)
	assertLessons(t, got, []model.Lesson{
		{Group: "В-41", Date: mon, Number: 1, Subject: "Право", Type: "лек.", Teacher: "Козлов", Room: "11", Times: "08:30-10:00"},
		{Group: "В-41", Date: mon, Number: 2, Subject: "Экономика", Teacher: "Козлов", Room: "12"},
		{Group: "В-42", Date: day(2024, time.September, 3), Number: 1, Subject: "Право"},
	})
}

func TestParseThirdCampusDateCells(t *testing.T) {
	data := buildWorkbook(t, fixtureSheet{
		name: "Расписание",
		cells: map[[2]int]any{
			{0, 0}: "Дата", {0, 1}: "Группа", {0, 2}: "№", {0, 3}: "Время",
			{0, 4}: "Дисциплина", {0, 5}: "Преподаватель", {0, 6}: "Аудитория",

			{1, 0}: time.Date(2024, time.September, 2, 0, 0, 0, 0, time.UTC),
			{1, 1}: "В-41", {1, 2}: 1, {1, 4}: "Право",
			{2, 1}: "В-41", {2, 2}: 2, {2, 4}: "Экономика",
		},
	})

	got, err := ParseAt(data, model.CampusThird, time.Now())
	if err != nil {
		t.Fatalf("ParseAt: %v", err)
	}

	mon := day(2024, time.September, 2)
	assertLessons(t, got, []model.Lesson{
		{Group: "В-41", Date: mon, Number: 1, Subject: "Право"},
		{Group: "В-41", Date: mon, Number: 2, Subject: "Экономика"},
	})
}

func TestThirdDate(t *testing.T) {
	cases := []struct {
		in   string
		want model.Date
		ok   bool
	}{
		{"пн 02.09.24", day(2024, time.September, 2), true},
		{"45537", day(2024, time.September, 2), true},
		{"45537.5", day(2024, time.September, 2), true},
		{"0", model.Date{}, false},
		{"31.02.24", model.Date{}, false},
	}
	for _, c := range cases {
		got, ok := thirdDate(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("thirdDate(%q) = %v, %v; want %v, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestParseKeepsDuplicateSlots(t *testing.T) {
	data := buildWorkbook(t, fixtureSheet{
		name: "5 сентября 2024",
		cells: map[[2]int]any{
			{3, 2}: "А-31",
			{5, 1}: 1,
			{5, 2}: "История",
			{9, 1}: 1,
			{9, 2}: "Литература",
		},
	})

	got, err := ParseAt(data, model.CampusFirst, time.Now())
	if err != nil {
		t.Fatalf("ParseAt: %v", err)
	}
	if len(got) != 2 || got[0].Key() != got[1].Key() {
		t.Fatalf("want two lessons for one slot, got %+v", got)
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse([]byte("not a workbook"), model.CampusFirst); err == nil {
		t.Error("garbage input: want error")
	}
	data := buildWorkbook(t, fixtureSheet{name: "x"})
	if _, err := Parse(data, model.Campus("fourth")); err == nil {
		t.Error("unknown campus: want error")
	}
	got, err := Parse(data, model.CampusSecond)
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("empty workbook: got %v, %v", got, err)
	}
}

func TestCleanups(t *testing.T) {
	tests := []struct {
		name string
		fn   func(string) string
		in   string
		want string
	}{
		{"group spaced", prepareGroup, "А 31", "А-31"},
		{"group glued", prepareGroup, "ИСП31", "ИСП-31"},
		{"group already split", prepareGroup, "ИСП-31", "ИСП-31"},
		{"times short hour", prepareTimes, "8:30 -10:00", "08:30-10:00"},
		{"times long hour", prepareTimes, " 10:10 - 11:40 ", "10:10-11:40"},
		{"times empty", prepareTimes, "  ", ""},
		{"teacher", prepareTeacher, " Иванов   И.И. / ", "Иванов И.И."},
		{"room slash", prepareRoom, "204 /  3", "204/3"},
		{"room spaces", prepareRoom, " 101   спортзал ", "101 спортзал"},
		{"subject", prepareSubject, "  Основы   права ", "Основы права"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitType(t *testing.T) {
	tests := []struct {
		in, subject, typ string
	}{
		{"Математика (лек.)", "Математика", "лек."},
		{"Химия (лаб.)", "Химия", "лаб."},
		{"Физкультура (элективная)", "Физкультура (элективная)", ""},
		{"Право", "Право", ""},
	}
	for _, tt := range tests {
		s, typ := splitType(tt.in)
		if s != tt.subject || typ != tt.typ {
			t.Errorf("splitType(%q) = %q, %q; want %q, %q", tt.in, s, typ, tt.subject, tt.typ)
		}
	}
}
