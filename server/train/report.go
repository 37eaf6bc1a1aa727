package train

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/detrain/pkg/model"
	"github.com/cyclopcam/detrain/server/summary"
	"github.com/cyclopcam/logs"
)

// writeModelMetrics writes model_metrics.txt, which lists the size and cost of each layer
func writeModelMetrics(dir string, stats model.Stats) (string, error) {
	buf := bytes.Buffer{}
	if err := stats.Write(&buf); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "model_metrics.txt")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("Failed to write model statistics: %w", err)
	}
	return path, nil
}

// appendMetrics writes a line to a metrics file. A failure is logged, and does not stop training.
func appendMetrics(log logs.Log, m *summary.MetricsFile, format string, a ...any) {
	if err := m.Println(format, a...); err != nil {
		log.Warnf("Failed to write %v: %v", filepath.Base(m.Path), err)
	}
}
