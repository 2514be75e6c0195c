package output

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestNewTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewTableWithConfig([]string{"Col1", "Col2"}, TableConfig{Writer: &buf})
	if table == nil {
		t.Fatal("NewTableWithConfig returned nil")
	}

	table.Append([]string{"val1", "val2"})
	table.Render()

	output := buf.String()
	if !strings.Contains(output, "Col1") {
		t.Errorf("Output missing header Col1: %s", output)
	}
	if !strings.Contains(output, "val1") {
		t.Errorf("Output missing value val1: %s", output)
	}
}

func TestNewTableNoHeader(t *testing.T) {
	var buf bytes.Buffer
	table := NewTableWithConfig([]string{}, TableConfig{Writer: &buf, NoHeader: true})
	if table == nil {
		t.Fatal("NewTableWithConfig returned nil")
	}

	table.Append([]string{"val1", "val2"})
	table.Render()

	output := buf.String()
	if !strings.Contains(output, "val1") {
		t.Errorf("Output missing value val1: %s", output)
	}
}

func TestNewTableDefaultWriter(t *testing.T) {
	// Test that it doesn't panic with nil writer
	table := NewTable([]string{"Col1"})
	if table == nil {
		t.Fatal("NewTable returned nil")
	}
}

func TestTableAppendBulk(t *testing.T) {
	var buf bytes.Buffer
	table := NewTableWithConfig([]string{"A", "B"}, TableConfig{Writer: &buf})

	table.AppendBulk([][]string{
		{"1", "2"},
		{"3", "4"},
	})
	table.Render()

	output := buf.String()
	if !strings.Contains(output, "1") || !strings.Contains(output, "4") {
		t.Errorf("Output missing bulk values: %s", output)
	}
}

func TestTableSetColWidth(t *testing.T) {
	var buf bytes.Buffer
	table := NewTableWithConfig([]string{"Col1"}, TableConfig{Writer: &buf})
	// Just verify it doesn't panic
	table.SetColWidth(20)
}

func TestTaskRow(t *testing.T) {
	rows := []TaskRow{
		{ID: "11111111-1111-1111-1111-111111111111", Status: "running", WorkerID: "w-1", CreatedAt: time.Now()},
		{ID: "22222222-2222-2222-2222-222222222222", Status: "pending", CreatedAt: time.Now()},
	}

	for _, r := range rows {
		if r.ID == "" {
			t.Error("Task ID should not be empty")
		}
	}
}

func TestPrintTasksTableEmpty(t *testing.T) {
	// Just verify it doesn't panic with no rows.
	PrintTasksTable(nil)
}

func TestWorkerRow(t *testing.T) {
	workers := []WorkerRow{
		{ID: "worker-1", LastHeartbeat: time.Now(), Eligible: true, ActiveTasks: 2, CircuitState: "CLOSED"},
		{ID: "worker-2", LastHeartbeat: time.Now().Add(-time.Hour), Eligible: false, ActiveTasks: 0, CircuitState: "OPEN"},
	}

	for _, w := range workers {
		if w.ID == "" {
			t.Error("Worker ID should not be empty")
		}
	}
}

func TestPrintWorkersTableEmpty(t *testing.T) {
	PrintWorkersTable(nil)
}

func TestSummary(t *testing.T) {
	s := Summary{
		Pending:    5,
		Dispatched: 2,
		Running:    3,
		Succeeded:  100,
		Failed:     1,
		Workers:    3,
		Eligible:   2,
		Uptime:     time.Hour,
	}

	if s.Workers != 3 {
		t.Errorf("Expected Workers=3, got %d", s.Workers)
	}
	if s.Eligible != 2 {
		t.Errorf("Expected Eligible=2, got %d", s.Eligible)
	}
}

func TestPrintSummary(t *testing.T) {
	// Just verify it doesn't panic.
	PrintSummary(Summary{Pending: 1, Workers: 1, Eligible: 1})
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name string
		s    string
		max  int
		want string
	}{
		{"short string", "hello", 10, "hello"},
		{"exact length", "hello", 5, "hello"},
		{"needs truncation", "hello world", 8, "hello..."},
		{"very short max", "hello", 4, "h..."},
		{"empty string", "", 5, ""},
		{"single char max", "hello", 3, "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateString(tt.s, tt.max)
			if got != tt.want {
				t.Errorf("truncateString(%q, %d) = %q, want %q", tt.s, tt.max, got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"seconds", 45 * time.Second, "45s"},
		{"minutes", 5*time.Minute + 30*time.Second, "5m30s"},
		{"hours", 2*time.Hour + 15*time.Minute, "2h15m"},
		{"days", 48*time.Hour + 3*time.Hour, "2d3h"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatDuration(tt.duration)
			if got != tt.want {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}

func TestTableConfigCenter(t *testing.T) {
	var buf bytes.Buffer
	table := NewTableWithConfig([]string{"Col1"}, TableConfig{Writer: &buf, Center: true})
	if table == nil {
		t.Fatal("NewTableWithConfig with Center returned nil")
	}
}
