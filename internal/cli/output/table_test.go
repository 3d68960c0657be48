package output

import (
	"bytes"
	"strings"
	"testing"
)

type releases []release

func (rs releases) Table(wide bool) *Table {
	t := NewTable("ID", "STATUS")
	if wide {
		t.Headers = append(t.Headers, "FILTER")
	}
	for _, r := range rs {
		row := []string{r.ID, r.Status}
		if wide {
			row = append(row, Pairs(r.Filter))
		}
		t.AddRow(row...)
	}
	return t
}

func TestTableFormatter_Tabler(t *testing.T) {
	rs := releases{
		{ID: "r1", Status: "active", Filter: map[string]string{"region": "us", "os": "ios"}},
		{ID: "r2", Status: "paused"},
	}

	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, rs); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "ID") || strings.Contains(lines[0], "FILTER") {
		t.Errorf("narrow table:\n%s", buf.String())
	}

	buf.Reset()
	if err := (&TableFormatter{Wide: true, NoHeaders: true}).Format(&buf, rs); err != nil {
		t.Fatal(err)
	}
	lines = strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[0], "os=ios,region=us") || !strings.HasSuffix(lines[1], "-") {
		t.Errorf("wide table:\n%s", buf.String())
	}
}

func TestTableFormatter_Flatten(t *testing.T) {
	data := map[string]any{
		"release_id": "r1",
		"totals":     map[string]any{"apply_success": 3, "boot_confirmed": 2},
		"buckets":    []any{},
		"rate":       0.5,
		"matched":    true,
		"config":     nil,
	}

	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, data); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := [][2]string{
		{"FIELD", "VALUE"},
		{"buckets", "-"},
		{"config", "-"},
		{"matched", "true"},
		{"rate", "0.5"},
		{"release_id", "r1"},
		{"totals.apply_success", "3"},
		{"totals.boot_confirmed", "2"},
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	for i, w := range want {
		fields := strings.Fields(lines[i])
		if len(fields) != 2 || fields[0] != w[0] || fields[1] != w[1] {
			t.Errorf("line %d = %q, want %v", i, lines[i], w)
		}
	}
}

func TestTableFormatter_Nil(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, nil); err != nil || buf.Len() != 0 {
		t.Errorf("Format(nil) = %q, %v", buf.String(), err)
	}
}

func TestTable_Render(t *testing.T) {
	tbl := NewTable("KEY", "PRIORITY")
	tbl.AddRow("region", "1")
	tbl.AddRow("app_version", "2")

	var buf bytes.Buffer
	if err := tbl.Render(&buf); err != nil {
		t.Fatal(err)
	}
	want := "KEY          PRIORITY\nregion       1\napp_version  2\n"
	if buf.String() != want {
		t.Errorf("Render() =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "-"},
		{"", "-"},
		{"us", "us"},
		{float64(3), "3"},
		{1.25, "1.25"},
		{false, "false"},
	}
	for _, tt := range tests {
		if got := Value(tt.in); got != tt.want {
			t.Errorf("Value(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMillis(t *testing.T) {
	if got := Millis(0); got != "-" {
		t.Errorf("Millis(0) = %q", got)
	}
	if got := Millis(1700000000000); got != "2023-11-14 22:13:20" {
		t.Errorf("Millis() = %q", got)
	}
}
