// Package orch provides orchestration helpers: bounded file concurrency and
// robust file I/O (retry/backoff on transient errors, atomic file promotion)
// shared by every stage that touches the filesystem.
/*
 * Copyright (c) 2023-2025, Caldera Data, Inc. All rights reserved.
 */
package orch

import (
	stderrs "errors"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
)

// retriable I/O errors seen on network-mounted volumes and under AV/backup
// filter drivers: sharing violations, transient permission denials, device
// busy. Go surfaces these as os.PathError wrapping the platform errno; we
// retry generously rather than try to special-case every errno.
func isRetriable(err error) bool {
	if err == nil || stderrs.Is(err, os.ErrNotExist) {
		return false
	}
	if stderrs.Is(err, os.ErrPermission) || stderrs.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var pe *os.PathError
	return stderrs.As(err, &pe)
}

const (
	defaultTries   = 16
	defaultDelayMS = 50
)

func backoffSleep(attempt int, delayMS int64) {
	time.Sleep(time.Duration(delayMS*int64(attempt+1)) * time.Millisecond)
}

// OpenWithBackoff opens path for reading, retrying transient failures with
// linear backoff.
func OpenWithBackoff(path string) (*os.File, error) {
	var lastErr error
	for i := 0; i < defaultTries; i++ {
		f, err := os.Open(path)
		if err == nil {
			return f, nil
		}
		if !isRetriable(err) {
			return nil, err
		}
		lastErr = err
		backoffSleep(i, defaultDelayMS)
	}
	return nil, errors.Wrapf(lastErr, "open %s after %d tries", path, defaultTries)
}

// CreateWithBackoff creates/truncates path for writing, retrying transient
// failures with linear backoff.
func CreateWithBackoff(path string) (*os.File, error) {
	var lastErr error
	for i := 0; i < defaultTries; i++ {
		f, err := os.Create(path)
		if err == nil {
			return f, nil
		}
		if !isRetriable(err) {
			return nil, err
		}
		lastErr = err
		backoffSleep(i, defaultDelayMS)
	}
	return nil, errors.Wrapf(lastErr, "create %s after %d tries", path, defaultTries)
}

// RemoveWithBackoff removes path, succeeding if it's already absent.
func RemoveWithBackoff(path string) error {
	var lastErr error
	for i := 0; i < defaultTries; i++ {
		err := os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			return nil
		}
		if !isRetriable(err) {
			return errors.Wrapf(err, "remove %s", path)
		}
		lastErr = err
		backoffSleep(i, defaultDelayMS)
	}
	return errors.Wrapf(lastErr, "remove %s after %d tries", path, defaultTries)
}

func renameWithBackoff(src, dest string) error {
	var lastErr error
	for i := 0; i < defaultTries; i++ {
		err := os.Rename(src, dest)
		if err == nil {
			return nil
		}
		if !isRetriable(err) {
			return errors.Wrapf(err, "rename %s -> %s", src, dest)
		}
		lastErr = err
		backoffSleep(i, defaultDelayMS)
	}
	return errors.Wrapf(lastErr, "rename (retries) %s -> %s", src, dest)
}

func copyWithBackoff(src, dest string) error {
	var lastErr error
	for i := 0; i < defaultTries; i++ {
		err := copyFile(src, dest)
		if err == nil {
			return nil
		}
		if !isRetriable(err) {
			return errors.Wrapf(err, "copy %s -> %s", src, dest)
		}
		lastErr = err
		backoffSleep(i, defaultDelayMS)
	}
	return errors.Wrapf(lastErr, "copy (retries) %s -> %s", src, dest)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ReplaceAtomic promotes tmp to dest: removes any existing dest, renames tmp
// into place, and falls back to copy+remove when the rename itself fails
// (e.g. cross-device or a transient sharing violation survives the retries).
func ReplaceAtomic(tmp, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		if err := RemoveWithBackoff(dest); err != nil {
			return err
		}
	}
	if err := renameWithBackoff(tmp, dest); err == nil {
		return nil
	}
	if err := copyWithBackoff(tmp, dest); err != nil {
		return err
	}
	return RemoveWithBackoff(tmp)
}
