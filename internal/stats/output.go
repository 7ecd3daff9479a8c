package stats

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OutputFormat represents the supported output format types
type OutputFormat string

// supported output format constants
const (
	// table format prints one line per task and a total line
	TableFormat OutputFormat = "table"

	// json format outputs results as a json object
	JSONFormat OutputFormat = "json"

	// flat format outputs results as space-separated values
	FlatFormat OutputFormat = "flat"
)

// ValidateFormat checks if the provided format string is a valid output format
func ValidateFormat(format string) (OutputFormat, error) {
	// convert format to OutputFormat type
	f := OutputFormat(strings.ToLower(format))

	// check if format is supported
	switch f {
	case TableFormat, JSONFormat, FlatFormat:
		return f, nil
	default:
		return "", fmt.Errorf("invalid format '%s'. supported formats are: table, json, flat", format)
	}
}

// TaskLine formats the per task report line using the task's own elapsed time
func TaskLine(r TaskResult) string {
	return fmt.Sprintf("Task %d: Written %d bytes, Throughput: %.2f MiB/s", r.ID, r.BytesWritten, MiBps(r.BytesWritten, r.Elapsed))
}

// TotalLine formats the aggregate report line over the configured duration
func TotalLine(s Summary) string {
	return fmt.Sprintf("Total: Written %d bytes, Throughput: %.2f MiB/s", s.TotalBytes, MiBps(s.TotalBytes, s.Duration))
}

// FormatSummary formats a Summary according to the specified format
func FormatSummary(s Summary, format OutputFormat) (string, error) {
	switch format {
	case TableFormat:
		// create string builder for table output
		var sb strings.Builder
		for _, r := range s.Tasks {
			sb.WriteString(TaskLine(r))
			sb.WriteString("\n")
		}
		sb.WriteString(TotalLine(s))
		sb.WriteString("\n")
		return sb.String(), nil

	case JSONFormat:
		type formattedTask struct {
			ID         int     `json:"id"`
			Role       string  `json:"role,omitempty"`
			Bytes      int64   `json:"bytes_written"`
			Writes     int64   `json:"writes"`
			Elapsed    float64 `json:"elapsed_seconds"`
			Throughput float64 `json:"throughput_mibs"`
			Error      string  `json:"error,omitempty"`
		}
		type formattedResult struct {
			Tasks      []formattedTask `json:"tasks"`
			Bytes      int64           `json:"total_bytes"`
			Writes     int64           `json:"total_writes"`
			Duration   float64         `json:"duration_seconds"`
			Throughput float64         `json:"throughput_mibs"`
			IOMode     string          `json:"io_mode"`
			Failed     int             `json:"failed_tasks"`
		}

		// populate the formatted result struct
		fr := formattedResult{
			Tasks:      make([]formattedTask, 0, len(s.Tasks)),
			Bytes:      s.TotalBytes,
			Writes:     s.TotalWrites,
			Duration:   s.Duration.Seconds(),
			Throughput: MiBps(s.TotalBytes, s.Duration),
			IOMode:     s.IOMode,
			Failed:     s.Failed,
		}
		for _, r := range s.Tasks {
			ft := formattedTask{
				ID:         r.ID,
				Role:       r.Role,
				Bytes:      r.BytesWritten,
				Writes:     r.Writes,
				Elapsed:    r.Elapsed.Seconds(),
				Throughput: MiBps(r.BytesWritten, r.Elapsed),
			}
			if r.Err != nil {
				ft.Error = r.Err.Error()
			}
			fr.Tasks = append(fr.Tasks, ft)
		}

		// marshal the result to json
		jsonBytes, err := json.MarshalIndent(fr, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal json: %w", err)
		}
		return string(jsonBytes) + "\n", nil

	case FlatFormat:
		// total bytes, writes, throughput, failed tasks with no headers
		return fmt.Sprintf("%d %d %.2f %d\n", s.TotalBytes, s.TotalWrites, MiBps(s.TotalBytes, s.Duration), s.Failed), nil

	default:
		// return error for unsupported format
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}
