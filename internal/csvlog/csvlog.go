// Package csvlog appends session start/end events to a CSV file.
//
// The file is the durable output of the daemon: it is created with a
// header row when missing, every write happens under a mutex, and rows
// older than the retention window are pruned when the logger opens.
// Rows that cannot be parsed are kept during pruning so a corrupt line
// never causes silent data loss of its neighbours.
package csvlog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const timestampLayout = "2006-01-02 15:04:05"

var header = []string{"timestamp", "event", "server", "folder"}

// Logger is a thread-safe CSV recorder for session events.
type Logger struct {
	path string
	mu   sync.Mutex
	log  *logrus.Entry
}

// New creates a Logger writing to path and prunes entries older than
// retention. A zero retention disables pruning. Failure to create or
// open the file is returned to the caller; the daemon treats it as
// fatal since logging is its entire purpose.
func New(path string, retention time.Duration) (*Logger, error) {
	l := &Logger{
		path: path,
		log:  logrus.WithField("component", "csvlog"),
	}

	if err := l.ensureFile(); err != nil {
		return nil, err
	}

	if retention > 0 {
		if err := l.prune(time.Now().Add(-retention)); err != nil {
			// Pruning is housekeeping; a failed prune must not stop the daemon.
			l.log.Warnf("retention prune failed: %v", err)
		}
	}

	return l, nil
}

// Path returns the CSV file path.
func (l *Logger) Path() string {
	return l.path
}

// Record appends one event row. Event is "start" or "end".
func (l *Logger) Record(event, server, folder string, ts time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to open csv log")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{ts.Format(timestampLayout), event, server, folder}); err != nil {
		return errors.Wrap(err, "failed to write csv row")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "failed to flush csv row")
	}

	l.log.Infof("%s | %s | %s | %s", ts.Format(timestampLayout), event, server, folder)
	return nil
}

func (l *Logger) ensureFile() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return errors.Wrap(err, "failed to create csv log directory")
	}

	info, err := os.Stat(l.path)
	if err == nil && info.Size() > 0 {
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to stat csv log")
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to create csv log")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return errors.Wrap(err, "failed to write csv header")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "failed to flush csv header")
	}

	l.log.Infof("created csv log: %s", l.path)
	return nil
}

// prune rewrites the file keeping the header, every row newer than
// cutoff, and every row whose timestamp cannot be parsed.
func (l *Logger) prune(cutoff time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		return errors.Wrap(err, "failed to open csv log for pruning")
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	f.Close()
	if err != nil {
		return errors.Wrap(err, "failed to read csv log for pruning")
	}

	kept := make([][]string, 0, len(rows))
	dropped := 0
	for i, row := range rows {
		if i == 0 {
			continue // header rewritten below
		}
		if len(row) > 0 {
			ts, perr := time.ParseInLocation(timestampLayout, row[0], time.Local)
			if perr == nil && ts.Before(cutoff) {
				dropped++
				continue
			}
		}
		kept = append(kept, row)
	}

	if dropped == 0 {
		return nil
	}

	tmp := l.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to create temp csv log")
	}

	w := csv.NewWriter(out)
	if err := w.Write(header); err != nil {
		out.Close()
		return errors.Wrap(err, "failed to write csv header")
	}
	if err := w.WriteAll(kept); err != nil {
		out.Close()
		return errors.Wrap(err, "failed to write pruned csv rows")
	}
	if err := out.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp csv log")
	}

	if err := os.Rename(tmp, l.path); err != nil {
		return errors.Wrap(err, "failed to replace csv log")
	}

	l.log.Infof("pruned %d rows older than %s", dropped, cutoff.Format(timestampLayout))
	return nil
}
