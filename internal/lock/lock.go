// Package lock provides the instance lock that gives one daemon ownership of
// an instance directory, and keyed in-process mutexes.
package lock

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const lockFile = "LOCK"

// Owner is the process recorded in a lock file.
type Owner struct {
	PID   int
	Host  string
	Since time.Time
}

// LockHeldError is returned when another daemon owns the instance.
type LockHeldError struct {
	Owner Owner
	Path  string
}

func (e *LockHeldError) Error() string {
	msg := fmt.Sprintf("instance locked by pid %d", e.Owner.PID)
	if e.Owner.Host != "" {
		msg += " on " + e.Owner.Host
	}
	if !e.Owner.Since.IsZero() {
		msg += " since " + e.Owner.Since.Format(time.RFC3339)
	}
	return msg + " (" + e.Path + ")"
}

// Lock is a held instance lock. The flock lives as long as the file stays
// open, so a crashed daemon never leaves the instance locked.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the instance lock in dir, creating dir if needed. It fails
// fast with *LockHeldError instead of waiting.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create instance dir: %w", err)
	}
	path := filepath.Join(dir, lockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}
		owner, _ := ReadOwner(dir)
		return nil, &LockHeldError{Owner: owner, Path: path}
	}

	host, _ := os.Hostname()
	if err := writeOwner(f, Owner{PID: os.Getpid(), Host: host, Since: time.Now().UTC()}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{file: f, path: path}, nil
}

// ReadOwner reports who last recorded ownership of dir's lock. It does not
// tell whether that process still holds it.
func ReadOwner(dir string) (Owner, error) {
	f, err := os.Open(filepath.Join(dir, lockFile))
	if err != nil {
		return Owner{}, err
	}
	defer func() { _ = f.Close() }()

	var o Owner
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			o.PID, _ = strconv.Atoi(val)
		case "host":
			o.Host = val
		case "time":
			o.Since, _ = time.Parse(time.RFC3339, val)
		}
	}
	return o, sc.Err()
}

func writeOwner(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.WriteAt([]byte(fmt.Sprintf("pid=%d\nhost=%s\ntime=%s\n",
		o.PID, o.Host, o.Since.Format(time.RFC3339))), 0)
	return err
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release drops the lock. Safe on a nil or released lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}
