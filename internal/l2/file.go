package l2

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
)

const fileNamePattern = "tlv%08d.fsc"

var fileNameRe = regexp.MustCompile(`^tlv(\d{8})\.fsc$`)

func fileName(number uint32) string {
	return fmt.Sprintf(fileNamePattern, number)
}

// parseFileNumber extracts the numeric component of a log file name, or
// (0, false) if name does not match the tlv<########>.fsc pattern.
func parseFileNumber(name string) (uint32, bool) {
	m := fileNameRe.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	var n uint32
	if _, err := fmt.Sscanf(m[1], "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// logFile is one numbered append-only segment of the L2 log. Appends happen
// under the FilesystemCache's lock; reads use ReadAt, which os.File documents
// as safe for concurrent use, so readAt needs no extra locking.
type logFile struct {
	number   uint32
	path     string
	handle   *os.File
	size     atomic.Int64
	closed   atomic.Bool
	writable bool
}

func createLogFile(dir string, number uint32) (*logFile, error) {
	path := filepath.Join(dir, fileName(number))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &logFile{number: number, path: path, handle: f, writable: true}, nil
}

func openLogFileReadOnly(dir string, number uint32) (*logFile, error) {
	path := filepath.Join(dir, fileName(number))
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	lf := &logFile{number: number, path: path, handle: f}
	lf.size.Store(info.Size())
	return lf, nil
}

// reopenWritable reopens a file previously opened read-only so it can accept
// appends (used when replay finds the newest file is the writable one).
func (f *logFile) reopenWritable() error {
	f.handle.Close()
	h, err := os.OpenFile(f.path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	f.handle = h
	f.writable = true
	return nil
}

// append writes rec at the file's current end and returns the offset the
// record (its header) starts at.
func (f *logFile) append(rec []byte) (offset int64, err error) {
	n, err := f.handle.Write(rec)
	if err != nil {
		return 0, err
	}
	start := f.size.Load()
	f.size.Add(int64(n))
	return start, nil
}

func (f *logFile) readAt(buf []byte, offset int64) error {
	_, err := f.handle.ReadAt(buf, offset)
	return err
}

func (f *logFile) close() error {
	if f.closed.CompareAndSwap(false, true) {
		return f.handle.Close()
	}
	return nil
}
