package output

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestProgressBar_Write(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf, "Backup")
	bar.every = 0

	n, err := io.Copy(bar, strings.NewReader(strings.Repeat("x", 2048)))
	if err != nil || n != 2048 {
		t.Fatalf("io.Copy() = %d, %v", n, err)
	}
	if bar.Current() != 2048 {
		t.Errorf("Current() = %d", bar.Current())
	}
	bar.Finish()
	if !strings.Contains(buf.String(), "\rBackup 2.0 KB") || !strings.HasSuffix(buf.String(), "\n") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestProgressBar_Total(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf, "Download")
	bar.SetTotal(100)
	bar.Write(make([]byte, 50))
	bar.Finish()

	out := buf.String()
	if !strings.Contains(out, " 50%") || !strings.Contains(out, "(50 B/100 B)") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, strings.Repeat("#", 15)+strings.Repeat("-", 15)) {
		t.Errorf("bar = %q", out)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
