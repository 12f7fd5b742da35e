package session

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// StoredSession describes one persisted timeline session on disk.
type StoredSession struct {
	SessionID string
	Tool      string
	Path      string
	StartedAt time.Time
	ClosedAt  *time.Time
}

// ListSessions returns stored sessions sorted by newest start time first.
func ListSessions(rootDir string) ([]StoredSession, error) {
	if rootDir == "" {
		var err error

		rootDir, err = DefaultDir()
		if err != nil {
			return nil, fmt.Errorf("resolve timeline root directory: %w", err)
		}
	}

	entries, err := os.ReadDir(rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("list timeline sessions: %w", err)
	}

	sessions := make([]StoredSession, 0, len(entries))
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}

		dir := filepath.Join(rootDir, ent.Name())

		data, err := os.ReadFile(filepath.Join(dir, metaFileName)) //nolint:gosec // controlled directory
		if err != nil {
			continue
		}

		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}

		sessions = append(sessions, StoredSession{
			SessionID: meta.SessionID,
			Tool:      meta.Tool,
			Path:      dir,
			StartedAt: meta.StartedAt,
			ClosedAt:  meta.ClosedAt,
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})

	return sessions, nil
}

// ReadRecords reads all persisted records for a session. When the
// compressed file is missing, for example after a crash where Close never
// ran, it falls back to the live file.
func ReadRecords(rootDir, sessionID string) (records []Record, err error) {
	if validateErr := validateSessionID(sessionID); validateErr != nil {
		return nil, validateErr
	}

	if rootDir == "" {
		var resolveErr error

		rootDir, resolveErr = DefaultDir()
		if resolveErr != nil {
			return nil, fmt.Errorf("resolve timeline root directory: %w", resolveErr)
		}
	}

	file, err := os.Open(filepath.Join(rootDir, sessionID, recordsFileName)) //nolint:gosec // controlled path
	if err != nil {
		if os.IsNotExist(err) {
			return readLiveRecords(rootDir, sessionID)
		}

		return nil, fmt.Errorf("open timeline records: %w", err)
	}

	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	gzipReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}

	defer func() {
		if closeErr := gzipReader.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	scanner := bufio.NewScanner(gzipReader)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}

		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("scan timeline records: %w", err)
	}

	return records, nil
}

func readLiveRecords(rootDir, sessionID string) (records []Record, err error) {
	file, err := os.Open(filepath.Join(rootDir, sessionID, recordsLiveFileName)) //nolint:gosec // controlled path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("open live timeline records for recovery: %w", err)
	}

	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		trimmed := bytes.TrimSpace(scanner.Bytes())
		if len(trimmed) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			continue
		}

		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("scan live timeline records: %w", err)
	}

	return records, nil
}

// ReadLiveRecordsFrom reads live records from a byte offset in the
// append-only JSONL file. The tail view polls this to follow a session that
// is still running.
func ReadLiveRecordsFrom(rootDir, sessionID string, offset int64) (records []Record, nextOffset int64, err error) {
	if validateErr := validateSessionID(sessionID); validateErr != nil {
		return nil, offset, validateErr
	}

	if offset < 0 {
		return nil, offset, errors.New("offset must be >= 0")
	}

	if rootDir == "" {
		var resolveErr error

		rootDir, resolveErr = DefaultDir()
		if resolveErr != nil {
			return nil, offset, fmt.Errorf("resolve timeline root directory: %w", resolveErr)
		}
	}

	file, err := os.Open(filepath.Join(rootDir, sessionID, recordsLiveFileName)) //nolint:gosec // controlled path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, offset, nil
		}

		return nil, offset, fmt.Errorf("open live timeline records: %w", err)
	}

	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	stat, err := file.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("read live timeline file info: %w", err)
	}

	if offset > stat.Size() {
		offset = stat.Size()
	}

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek live timeline file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	nextOffset = offset

	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			// An unterminated trailing line can appear if we race with a
			// writer; keep offset at the prior safe position and retry on
			// the next poll.
			if line[len(line)-1] != '\n' {
				break
			}

			nextOffset += int64(len(line))

			trimmed := bytes.TrimSpace(line)
			if len(trimmed) > 0 {
				var rec Record
				if err := json.Unmarshal(trimmed, &rec); err == nil {
					records = append(records, rec)
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}

			return records, nextOffset, fmt.Errorf("read live timeline line: %w", readErr)
		}
	}

	return records, nextOffset, nil
}

// PruneOlderThan removes session directories older than the cutoff.
func PruneOlderThan(rootDir string, cutoff time.Time) (int, error) {
	sessions, err := ListSessions(rootDir)
	if err != nil {
		return 0, err
	}

	removed := 0

	for _, sess := range sessions {
		referenceTime := sess.StartedAt
		if sess.ClosedAt != nil {
			referenceTime = *sess.ClosedAt
		}

		if referenceTime.Before(cutoff) {
			if err := os.RemoveAll(sess.Path); err != nil {
				return removed, fmt.Errorf("prune timeline session %q: %w", sess.SessionID, err)
			}

			removed++
		}
	}

	return removed, nil
}

// DefaultRetention returns the default prune window.
func DefaultRetention() time.Duration {
	return defaultRetentionHours * time.Hour
}
