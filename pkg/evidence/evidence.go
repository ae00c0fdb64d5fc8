// Package evidence writes an on-disk record of cascade runs: run metadata,
// one JSON file per resolved task, the synthesis history and the batch
// summary. Large outputs are stored as content-addressed blobs.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zen-systems/toolcascade/pkg/schema"
)

// BlobThreshold is the output size above which attempt outputs are written
// to blobs/ instead of inline.
const BlobThreshold = 4096

// RunRecord captures run-level metadata.
type RunRecord struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	Command      string            `json:"command"`
	ConfigFile   string            `json:"config_file,omitempty"`
	TaskFile     string            `json:"task_file,omitempty"`
	Tasks        int               `json:"tasks"`
	ToolVersions map[string]string `json:"tool_versions,omitempty"`
}

// ResultRecord is the evidence for one cascade.
type ResultRecord struct {
	Schema          string                `json:"schema"`
	TaskID          string                `json:"task_id"`
	Goal            string                `json:"goal"`
	Classification  schema.Classification `json:"classification"`
	Status          schema.Status         `json:"status"`
	Output          string                `json:"output,omitempty"`
	Reason          string                `json:"reason,omitempty"`
	FinalTier       string                `json:"final_tier,omitempty"`
	SynthesizedTool string                `json:"synthesized_tool,omitempty"`
	DurationMillis  int64                 `json:"duration_ms"`
	Attempts        []AttemptRecord       `json:"attempts"`
}

// AttemptRecord captures one tool invocation.
type AttemptRecord struct {
	Attempt        int      `json:"attempt"`
	ToolID         string   `json:"tool_id"`
	Tier           string   `json:"tier"`
	Output         string   `json:"output,omitempty"`
	OutputRef      string   `json:"output_ref,omitempty"`
	OutputSHA256   string   `json:"output_sha256,omitempty"`
	Confidence     float64  `json:"confidence"`
	Accepted       bool     `json:"accepted"`
	Failure        string   `json:"failure,omitempty"`
	Error          string   `json:"error,omitempty"`
	Violations     []string `json:"violations,omitempty"`
	DurationMillis int64    `json:"duration_ms"`
}

// Writer writes evidence bundles to disk.
type Writer struct {
	baseDir string
	runDir  string
}

// NewWriter creates a new evidence writer rooted at baseDir/runID.
func NewWriter(baseDir, runID string) (*Writer, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	runDir := filepath.Join(baseDir, runID)
	for _, dir := range []string{runDir, filepath.Join(runDir, "results"), filepath.Join(runDir, "blobs")} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
		// MkdirAll leaves existing directories alone and is subject to umask.
		if err := os.Chmod(dir, 0700); err != nil {
			return nil, err
		}
	}

	return &Writer{baseDir: baseDir, runDir: runDir}, nil
}

// RunDir returns the run directory path.
func (w *Writer) RunDir() string {
	return w.runDir
}

// WriteRun writes run metadata to run.json.
func (w *Writer) WriteRun(record RunRecord) error {
	return writeJSON(filepath.Join(w.runDir, "run.json"), record)
}

// WriteResult writes results/<task>.json for a finished cascade.
func (w *Writer) WriteResult(task schema.Task, result *schema.CascadeResult) error {
	if result == nil {
		return fmt.Errorf("result is required")
	}
	record := ResultRecord{
		Schema:          schema.SchemaResultV1,
		TaskID:          result.TaskID,
		Goal:            task.Goal,
		Classification:  result.Classification,
		Status:          result.Status,
		Output:          result.Output,
		Reason:          result.Reason,
		SynthesizedTool: result.SynthesizedTool,
		DurationMillis:  result.Duration.Milliseconds(),
		Attempts:        make([]AttemptRecord, 0, len(result.Attempts)),
	}
	if tier := result.FinalTier(); tier != 0 {
		record.FinalTier = tier.String()
	}

	for i, a := range result.Attempts {
		ar := AttemptRecord{
			Attempt:        i + 1,
			ToolID:         a.ToolID,
			Tier:           a.Tier.String(),
			Output:         a.Output,
			Confidence:     a.Confidence,
			Accepted:       a.Accepted,
			Failure:        string(a.Failure),
			Error:          a.Error,
			Violations:     a.Violations,
			DurationMillis: a.Duration.Milliseconds(),
		}
		if len(a.Output) > BlobThreshold {
			ref, sha, err := w.WriteBlob("output", []byte(a.Output))
			if err != nil {
				return err
			}
			ar.Output = ""
			ar.OutputRef = ref
			ar.OutputSHA256 = sha
		}
		record.Attempts = append(record.Attempts, ar)
	}

	return writeJSON(filepath.Join(w.runDir, "results", sanitize(result.TaskID, "task")+".json"), record)
}

// WriteSynthesis writes the synthesis history to synthesis.json.
func (w *Writer) WriteSynthesis(history any) error {
	return writeJSON(filepath.Join(w.runDir, "synthesis.json"), history)
}

// WriteSummary writes the batch summary to summary.json.
func (w *Writer) WriteSummary(summary any) error {
	return writeJSON(filepath.Join(w.runDir, "summary.json"), summary)
}

// WriteBlob stores content under blobs/ named by kind and sha256. Writing the
// same content twice returns the same reference.
func (w *Writer) WriteBlob(kind string, content []byte) (ref string, sha string, err error) {
	sum := sha256.Sum256(content)
	sha = hex.EncodeToString(sum[:])
	ref = filepath.ToSlash(filepath.Join("blobs", fmt.Sprintf("%s-%s.txt", sanitize(kind, "blob"), sha)))

	path := filepath.Join(w.runDir, filepath.FromSlash(ref))
	if _, statErr := os.Stat(path); statErr == nil {
		return ref, sha, nil
	}
	if err := os.WriteFile(path, content, 0600); err != nil {
		return "", "", err
	}
	return ref, sha, nil
}

// sanitize keeps lowercase letters, digits, '_' and '-'.
func sanitize(name, fallback string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
		}
	}
	if sb.Len() == 0 {
		return fallback
	}
	return sb.String()
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
