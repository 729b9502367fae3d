// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package filelock provides non-blocking advisory file locks that guard a
// state directory against concurrent runs.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrAlreadyLocked indicates the lock is currently held by another process.
var ErrAlreadyLocked = errors.New("already locked")

// Lock is a held file lock.
type Lock struct {
	file *os.File
	path string
}

// Owner describes the process that holds a lock.
type Owner struct {
	PID     int
	Started time.Time
	Command string
}

func (o Owner) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pid %d", o.PID)
	if o.Command != "" {
		fmt.Fprintf(&sb, " (%s)", o.Command)
	}
	if !o.Started.IsZero() {
		fmt.Fprintf(&sb, " since %s", o.Started.Format(time.RFC3339))
	}
	return sb.String()
}

// HeldError is returned by [Acquire] when another process holds the lock.
// It matches [ErrAlreadyLocked] with errors.Is.
type HeldError struct {
	Path  string
	Owner Owner
}

func (e *HeldError) Error() string {
	if e.Owner.PID == 0 {
		return fmt.Sprintf("%s: %v", e.Path, ErrAlreadyLocked)
	}
	return fmt.Sprintf("%s: %v by %s", e.Path, ErrAlreadyLocked, e.Owner)
}

func (e *HeldError) Is(target error) bool { return target == ErrAlreadyLocked }

// Acquire obtains a non-blocking exclusive lock for path and records the
// current process and command in it.
func Acquire(path, command string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		closeErr := f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			owner, _ := ReadOwner(path)
			return nil, &HeldError{Path: path, Owner: owner}
		}
		return nil, errors.Join(err, closeErr)
	}

	l := &Lock{file: f, path: path}
	owner := Owner{PID: os.Getpid(), Started: time.Now().UTC().Truncate(time.Second), Command: command}
	if err := l.write(owner); err != nil {
		return nil, errors.Join(err, l.Release())
	}
	return l, nil
}

func (l *Lock) write(o Owner) error {
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	if _, err := l.file.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(l.file, "pid=%d\nstarted=%s\ncommand=%s\n", o.PID, o.Started.Format(time.RFC3339), o.Command)
	return err
}

// ReadOwner parses the owner information stored in the lock file at path.
func ReadOwner(path string) (Owner, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Owner{}, err
	}
	var o Owner
	for line := range strings.Lines(string(b)) {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch k {
		case "pid":
			o.PID, _ = strconv.Atoi(v)
		case "started":
			o.Started, _ = time.Parse(time.RFC3339, v)
		case "command":
			o.Command = v
		}
	}
	return o, nil
}

// IsLocked reports whether path is currently locked by another process.
func IsLocked(path string) bool {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return false
	}
	defer f.Close()

	err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return false
	}

	return errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN)
}

// Release unlocks and closes the lock file. It is safe to call on a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		return errors.Join(err, f.Close())
	}
	return f.Close()
}
