// Package archive persists finished session transcripts as JSON files,
// one per session, under a configurable directory.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/clementinec/wrtvoice/domain/repositories"
)

// FileArchive implements TranscriptArchive on the local filesystem.
type FileArchive struct {
	dir    string
	logger *zap.Logger
}

// NewFileArchive creates the archive directory if it does not exist.
func NewFileArchive(dir string, logger *zap.Logger) (*FileArchive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &FileArchive{dir: dir, logger: logger}, nil
}

// Save writes the transcript to <dir>/<session_id>.json, replacing any
// previous record for the session.
func (f *FileArchive) Save(ctx context.Context, record repositories.TranscriptRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}

	path := f.path(record.SessionID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}

	f.logger.Info("Transcript archived",
		zap.String("sessionID", record.SessionID),
		zap.Int("turns", record.TurnCount),
		zap.String("path", path))
	return nil
}

// List returns summaries of all archived transcripts, newest first.
func (f *FileArchive) List(ctx context.Context) ([]repositories.TranscriptSummary, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var summaries []repositories.TranscriptSummary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		record, err := f.read(filepath.Join(f.dir, entry.Name()))
		if err != nil {
			f.logger.Warn("Skipping unreadable transcript",
				zap.String("file", entry.Name()),
				zap.Error(err))
			continue
		}
		summaries = append(summaries, repositories.TranscriptSummary{
			SessionID: record.SessionID,
			StartedAt: record.StartedAt,
			TurnCount: record.TurnCount,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})
	return summaries, nil
}

// Load reads one archived transcript.
func (f *FileArchive) Load(ctx context.Context, sessionID string) (repositories.TranscriptRecord, error) {
	record, err := f.read(f.path(sessionID))
	if os.IsNotExist(err) {
		return repositories.TranscriptRecord{}, repositories.ErrTranscriptNotFound
	}
	if err != nil {
		return repositories.TranscriptRecord{}, err
	}
	return record, nil
}

func (f *FileArchive) path(sessionID string) string {
	// Session IDs are UUIDs; the base call guards against path traversal
	// in hand-crafted requests.
	return filepath.Join(f.dir, filepath.Base(sessionID)+".json")
}

func (f *FileArchive) read(path string) (repositories.TranscriptRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return repositories.TranscriptRecord{}, err
	}
	var record repositories.TranscriptRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return repositories.TranscriptRecord{}, fmt.Errorf("failed to decode transcript %s: %w", path, err)
	}
	return record, nil
}
