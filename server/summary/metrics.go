package summary

import (
	"fmt"
	"os"
	"sync"
)

// MetricsFile is an append-only text log, such as training_metrics.txt
type MetricsFile struct {
	Path string
	lock sync.Mutex
}

func NewMetricsFile(path string) *MetricsFile {
	return &MetricsFile{Path: path}
}

// Println appends one line
func (m *MetricsFile) Println(format string, a ...any) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	f, err := os.OpenFile(m.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(f, format+"\n", a...)
	errClose := f.Close()
	if err != nil {
		return err
	}
	return errClose
}
