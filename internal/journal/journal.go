// Package journal writes every reconciled capture to an append-only
// JSONL file, one line per ingested event, for offline replay and
// debugging. The live query surface is the store; the journal is the
// raw history.
package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Writer handles async writing of JSON lines to date-organized files.
type Writer struct {
	baseDir     string
	maxSizeMB   int
	writeCh     chan any
	done        chan struct{}
	wg          sync.WaitGroup
	currentDate string
	logger      *lumberjack.Logger
	mu          sync.Mutex
}

// NewWriter creates an async journal writer rooted at baseDir.
func NewWriter(baseDir string, bufferSize, maxSizeMB int) *Writer {
	w := &Writer{
		baseDir:   baseDir,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
	}

	w.wg.Add(1)
	go w.writeLoop()

	return w
}

// Write queues a record for async writing.
func (w *Writer) Write(record any) error {
	select {
	case w.writeCh <- record:
		return nil
	case <-w.done:
		return fmt.Errorf("journal is closed")
	default:
		// Channel full, log warning but don't block
		slog.Warn("journal buffer full, dropping record")
		return fmt.Errorf("buffer full")
	}
}

// Close shuts down the writer and flushes pending data.
func (w *Writer) Close() error {
	close(w.done)

	// Drain remaining items with timeout
	timeout := time.After(5 * time.Second)
	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-timeout:
			slog.Warn("journal close timeout, some records may be lost")
			goto done
		default:
			goto done
		}
	}

done:
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logger != nil {
		return w.logger.Close()
	}
	return nil
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()

	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-w.done:
			return
		}
	}
}

func (w *Writer) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("Failed to marshal journal record", "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// Rotate into a new date directory at UTC midnight
	currentDate := time.Now().UTC().Format("2006-01-02")
	if currentDate != w.currentDate || w.logger == nil {
		w.rotateForDate(currentDate)
	}

	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("Failed to write journal record", "error", err)
	}
}

func (w *Writer) rotateForDate(date string) {
	if w.logger != nil {
		w.logger.Close()
	}

	dir := filepath.Join(w.baseDir, date)
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("Failed to create journal directory",
			"error", err,
			"dir", dir)
		return
	}

	filename := filepath.Join(dir, "captures.jsonl")

	w.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    w.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30, // days
		Compress:   false,
		LocalTime:  false, // UTC
	}

	w.currentDate = date
	slog.Info("Opened new journal file", "file", filename)
}
