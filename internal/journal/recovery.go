package journal

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strconv"
)

// recoveryWindow is the tail slice read on writer open to recover the last
// valid cursor when the sidecar is missing or lags the journal.
const recoveryWindow = 64 * 1024

// recoverLastCursor reads the tail of a journal file and returns the
// cursor of the last well-formed record, skipping malformed trailing
// lines. This is the only tolerated form of tail corruption. It returns
// (0, nil) if the file is empty, missing, or contains no valid record in
// the recovery window.
func recoverLastCursor(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	size := info.Size()
	start := size - recoveryWindow
	if start < 0 {
		start = 0
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return 0, err
	}

	buf, err := io.ReadAll(f)
	if err != nil {
		return 0, err
	}

	lines := bytes.Split(buf, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // malformed trailing line, skip
		}
		cursor, err := strconv.ParseInt(rec.Cursor, 10, 64)
		if err != nil {
			continue
		}
		return cursor, nil
	}
	return 0, nil
}
