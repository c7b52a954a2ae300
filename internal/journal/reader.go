package journal

import (
	"encoding/json"
	"io"
	"os"
	"strconv"

	"github.com/relaybridge/codexgw/internal/adapters/jsonl"
)

// maxJournalLineBytes bounds a single journal line; a line past this is
// treated the same as any other malformed trailing line (skipped, not
// fatal), matching the crash-tolerant recovery discipline in recovery.go.
const maxJournalLineBytes = 8 * 1024 * 1024

// ReadFrom streams records with cursor > since from a session's journal
// file, in cursor order, invoking fn for each. It stops early if fn
// returns a non-nil error. Malformed lines are skipped rather than
// treated as fatal, consistent with the tail-corruption tolerance the
// writer applies on recovery. Returns the number of records delivered
// and the file offset reached (used by the tailer to seed its
// live-follow position after replay).
func ReadFrom(path string, since int64, fn func(Record) error) (int, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	defer func() { _ = f.Close() }()

	return readRecords(f, since, -1, fn)
}

// ReadSince resumes reading a journal file from a previously seen byte
// offset, used by the tailer's live-follow loop after an fsnotify write
// event. limit caps the number of records delivered per call so a single
// burst can't starve other sessions' tailers; pass 0 for no limit.
func ReadSince(path string, offset int64, limit int, fn func(Record) error) (int, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, offset, nil
		}
		return 0, offset, err
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, offset, err
	}

	n, newOffset, err := readRecords(f, 0, limit, fn)
	return n, offset + newOffset, err
}

func readRecords(f *os.File, since int64, limit int, fn func(Record) error) (int, int64, error) {
	sc := jsonl.NewScanner(f, maxJournalLineBytes)
	var delivered int
	var offset int64

	for {
		if limit > 0 && delivered >= limit {
			return delivered, offset, nil
		}

		line, err := sc.Next()
		if err != nil {
			if err == io.EOF {
				return delivered, offset, nil
			}
			return delivered, offset, err
		}
		offset += int64(line.Size)
		if line.Truncated || len(line.Text) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line.Text, &rec); err != nil {
			continue // malformed line, skip per recovery tolerance
		}
		cursor, err := strconv.ParseInt(rec.Cursor, 10, 64)
		if err != nil || cursor <= since {
			continue
		}

		if err := fn(rec); err != nil {
			return delivered, offset, err
		}
		delivered++
	}
}
