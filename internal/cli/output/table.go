package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Table wraps tablewriter with the CLI's default styling.
type Table struct {
	table *tablewriter.Table
}

// TableConfig holds table configuration options.
type TableConfig struct {
	Writer   io.Writer
	NoHeader bool
	Center   bool
}

// NewTable creates a new table with the given headers.
func NewTable(headers []string) *Table {
	return NewTableWithConfig(headers, TableConfig{})
}

// NewTableWithConfig creates a table with custom configuration.
func NewTableWithConfig(headers []string, cfg TableConfig) *Table {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}

	t := tablewriter.NewWriter(writer)

	if !cfg.NoHeader && len(headers) > 0 {
		t.SetHeader(headers)
	}

	// Default styling
	t.SetBorder(false)
	t.SetHeaderLine(true)
	t.SetColumnSeparator(" ")
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(false)

	if cfg.Center {
		t.SetAlignment(tablewriter.ALIGN_CENTER)
	}

	return &Table{table: t}
}

// Append adds a row to the table.
func (t *Table) Append(row []string) {
	t.table.Append(row)
}

// AppendBulk adds multiple rows to the table.
func (t *Table) AppendBulk(rows [][]string) {
	t.table.AppendBulk(rows)
}

// Render outputs the table.
func (t *Table) Render() {
	t.table.Render()
}

// SetColWidth sets the column width for a specific column.
func (t *Table) SetColWidth(width int) {
	t.table.SetColWidth(width)
}

// TaskRow holds one row of the task summary table printed by `fcs status`.
type TaskRow struct {
	ID          string
	Status      string
	WorkerID    string
	CreatedAt   time.Time
	ScheduledAt *time.Time
}

// PrintTasksTable prints a colored table of recent tasks.
func PrintTasksTable(rows []TaskRow) {
	if len(rows) == 0 {
		fmt.Println(Dim("No tasks"))
		return
	}

	table := NewTable([]string{"ID", "STATUS", "WORKER", "CREATED", "SCHEDULED"})

	for _, r := range rows {
		scheduled := "-"
		if r.ScheduledAt != nil {
			scheduled = r.ScheduledAt.Format(time.RFC3339)
		}
		worker := r.WorkerID
		if worker == "" {
			worker = "-"
		} else {
			worker = truncateString(worker, 12)
		}

		table.Append([]string{
			truncateString(r.ID, 12),
			StatusLabel(r.Status),
			worker,
			r.CreatedAt.Format(time.RFC3339),
			scheduled,
		})
	}

	table.Render()
}

// WorkerRow holds one row of the worker summary table printed by `fcs status`.
type WorkerRow struct {
	ID            string
	LastHeartbeat time.Time
	Eligible      bool
	ActiveTasks   int
	CircuitState  string
}

// PrintWorkersTable prints a colored table of registered workers.
func PrintWorkersTable(workers []WorkerRow) {
	if len(workers) == 0 {
		fmt.Println(Warning("No workers registered"))
		return
	}

	healthy := 0
	for _, w := range workers {
		if w.Eligible {
			healthy++
		}
	}
	fmt.Printf("Workers: %s total, %s eligible\n\n",
		Bold(fmt.Sprintf("%d", len(workers))),
		Success(fmt.Sprintf("%d", healthy)))

	table := NewTable([]string{"ID", "LAST HEARTBEAT", "ELIGIBLE", "ACTIVE TASKS", "CIRCUIT"})

	for _, w := range workers {
		table.Append([]string{
			truncateString(w.ID, 20),
			formatDuration(time.Since(w.LastHeartbeat)) + " ago",
			StatusIcon(w.Eligible),
			fmt.Sprintf("%d", w.ActiveTasks),
			WorkerStatus(w.CircuitState),
		})
	}

	table.Render()
}

// Summary holds the point-in-time queue snapshot printed by `fcs status`.
type Summary struct {
	Pending     int64
	Dispatched  int64
	Running     int64
	Succeeded   int64
	Failed      int64
	Interrupted int64
	Workers     int
	Eligible    int
	Uptime      time.Duration
}

// PrintSummary prints a colored queue status summary.
func PrintSummary(s Summary) {
	fmt.Println(Bold("Free Churro Scheduler Status"))
	fmt.Println("────────────────────────────")

	table := NewTable([]string{})
	table.table.SetHeader(nil)

	table.Append([]string{"Pending:", fmt.Sprintf("%d", s.Pending)})
	table.Append([]string{"Dispatched:", Info(fmt.Sprintf("%d", s.Dispatched))})
	table.Append([]string{"Running:", Info(fmt.Sprintf("%d", s.Running))})
	table.Append([]string{"Succeeded:", Success(fmt.Sprintf("%d", s.Succeeded))})

	if s.Failed > 0 {
		table.Append([]string{"Failed:", Error(fmt.Sprintf("%d", s.Failed))})
	}
	if s.Interrupted > 0 {
		table.Append([]string{"Interrupted:", Warning(fmt.Sprintf("%d", s.Interrupted))})
	}

	table.Append([]string{"Workers:", fmt.Sprintf("%d total, %d eligible", s.Workers, s.Eligible)})

	if s.Uptime > 0 {
		table.Append([]string{"Uptime:", formatDuration(s.Uptime)})
	}

	table.Render()
}

// truncateString truncates a string to the given max length.
func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	} else if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", mins, secs)
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd%dh", days, hours)
}
