// Package storage provides message persistence backends for the SMTP
// server core: a Maildir-format filesystem store and a badger-backed
// embedded spool for deployments that would rather not depend on a
// filesystem layout.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"esmtpd/logging"
)

const (
	// MailboxDirPermissions holds the permissions used for the maildir directory.
	MailboxDirPermissions = 0750
	// MaildirFilePermissions holds the permissions used for maildir message files.
	MaildirFilePermissions = 0600
)

var messageCounter atomic.Int64
var (
	loggerCfg = logging.DefaultConfig()
	stdLogger = logging.NewStdoutLogger(&loggerCfg)
)

// Maildir writes accepted messages to a Maildir-format directory: three
// subdirectories, new/, cur/, and tmp/, with delivery performed by writing
// to tmp/ and atomically renaming into new/ per the Maildir specification.
type Maildir struct {
	Directory string
	hostname  string
}

// remapUnixTmpOnWindows maps incoming unix-style /tmp or /var/tmp paths to
// the real OS temp dir on Windows.
func remapUnixTmpOnWindows(dir string) string {
	if runtime.GOOS != "windows" {
		return dir
	}
	slashed := filepath.ToSlash(dir)
	if strings.HasPrefix(slashed, "/tmp") || strings.HasPrefix(slashed, "/var/tmp") {
		tail := strings.TrimPrefix(slashed, "/tmp")
		tail = strings.TrimPrefix(tail, "/")
		if tail == "" {
			return os.TempDir()
		}
		return filepath.Join(os.TempDir(), filepath.FromSlash(tail))
	}
	return dir
}

// validateMailboxPathWindows enforces conservative rules for absolute paths
// on Windows: nil for acceptable paths, an error describing why a path is
// rejected otherwise.
func validateMailboxPathWindows(dir string) error {
	if runtime.GOOS != "windows" {
		return nil
	}
	if strings.HasPrefix(dir, "/") || strings.HasPrefix(dir, "\\") {
		return fmt.Errorf("invalid mailbox directory path: %s", dir)
	}
	if filepath.IsAbs(dir) {
		cleanDir := filepath.ToSlash(filepath.Clean(dir))
		cleanTmp := filepath.ToSlash(filepath.Clean(os.TempDir()))
		cwd, cwdErr := os.Getwd()
		if cwdErr == nil {
			cleanCwd := filepath.ToSlash(filepath.Clean(cwd))
			if !strings.HasPrefix(cleanDir, cleanCwd) && !strings.HasPrefix(cleanDir, cleanTmp) {
				return fmt.Errorf("invalid mailbox directory path: %s", dir)
			}
		} else if !strings.HasPrefix(cleanDir, cleanTmp) {
			return fmt.Errorf("invalid mailbox directory path: %s", dir)
		}
	}
	return nil
}

// NewMaildir creates (if needed) the new/, cur/ and tmp/ subdirectories
// under directory and returns a Maildir ready to accept deliveries.
func NewMaildir(directory string) (*Maildir, error) {
	directory = remapUnixTmpOnWindows(directory)
	if err := validateMailboxPathWindows(directory); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(directory, MailboxDirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create mailbox directory: %w", err)
	}
	for _, subdir := range []string{"new", "cur", "tmp"} {
		path := filepath.Join(directory, subdir)
		if err := os.MkdirAll(path, MailboxDirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create maildir subdirectory %s: %w", subdir, err)
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "esmtpd.local"
	}

	return &Maildir{Directory: directory, hostname: hostname}, nil
}

// Save delivers one message: from and to are the envelope addresses, body
// is the already dot-unstuffed RFC 5322 message as received in DATA. The
// message is written to tmp/ first, then atomically renamed into new/.
func (m *Maildir) Save(from string, to []string, body []byte) error {
	now := time.Now()

	tmpDir := filepath.Join(m.Directory, "tmp")
	if err := os.MkdirAll(tmpDir, MailboxDirPermissions); err != nil {
		return fmt.Errorf("failed to ensure tmp directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(tmpDir, "msg-*")
	if err != nil {
		return fmt.Errorf("failed to create temp message file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if err := validatePathWithinDir(m.Directory, tmpPath); err != nil {
		if closeErr := tmpFile.Close(); closeErr != nil {
			stdLogger.Error("error closing temp file after validation failure", closeErr)
		}
		if rmErr := os.Remove(tmpPath); rmErr != nil {
			stdLogger.Error("failed to remove temp file after validation failure", fmt.Errorf("%s: %v", tmpPath, rmErr))
		}
		return err
	}

	if chmodErr := tmpFile.Chmod(MaildirFilePermissions); chmodErr != nil {
		stdLogger.Warn("failed to chmod temp file", logging.F("path", tmpPath), logging.F("err", chmodErr))
	}

	writeErr := writeMessageToFile(tmpFile, from, to, body)
	if closeErr := tmpFile.Close(); closeErr != nil {
		stdLogger.Error("error closing file", closeErr)
		writeErr = errors.Join(writeErr, closeErr)
	}
	if writeErr != nil {
		if rmErr := os.Remove(tmpPath); rmErr != nil {
			stdLogger.Error("failed to remove temp file", fmt.Errorf("%s: %v", tmpPath, rmErr))
		}
		return fmt.Errorf("failed to write message: %w", writeErr)
	}

	filename := generateMailFilename(now, &messageCounter, m.hostname)
	newPath := filepath.Join(m.Directory, "new", filename)
	if err := os.Rename(tmpPath, newPath); err != nil {
		if rmErr := os.Remove(tmpPath); rmErr != nil {
			stdLogger.Error("failed to remove temp file after rename failure", fmt.Errorf("%s: %v", tmpPath, rmErr))
		}
		return fmt.Errorf("failed to deliver message to new/: %w", err)
	}

	headers := ExtractHeaders(body)
	stdLogger.Info("message saved",
		logging.F("path", newPath),
		logging.F("subject", headers.Subject),
		logging.F("message_id", headers.MessageID))
	return nil
}

func generateMailFilename(now time.Time, counter *atomic.Int64, hostname string) string {
	c := counter.Add(1)
	unique := fmt.Sprintf("%d_%d_%d", now.UnixMicro(), os.Getpid(), c)
	return fmt.Sprintf("%d.%s.%s", now.Unix(), unique, hostname)
}

func validatePathWithinDir(baseDir, targetPath string) error {
	cleanTarget := filepath.Clean(targetPath)
	cleanBase := filepath.Clean(baseDir)
	relPath, err := filepath.Rel(cleanBase, cleanTarget)
	if err != nil || strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
		return fmt.Errorf("invalid file path: path traversal detected")
	}
	return nil
}

// writeMessageToFile writes a Return-Path/Received preamble ahead of the
// already-complete RFC 5322 body the client sent in DATA.
func writeMessageToFile(file *os.File, from string, to []string, body []byte) error {
	if _, err := fmt.Fprintf(file, "Return-Path: <%s>\r\n", from); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(file, "Received: by esmtpd for %s; %s\r\n", strings.Join(to, ", "), time.Now().Format(time.RFC1123Z)); err != nil {
		return err
	}
	if _, err := file.Write(body); err != nil {
		return err
	}
	return nil
}

// ListMessages lists every message file under new/ and cur/.
func (m *Maildir) ListMessages() ([]string, error) {
	var allFiles []string
	for _, subdir := range []string{"new", "cur"} {
		pattern := filepath.Join(m.Directory, subdir, "*")
		files, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to list messages in %s: %w", subdir, err)
		}
		allFiles = append(allFiles, files...)
	}
	return allFiles, nil
}

// DeleteMessage removes filename (a basename, not a path) from new/ or cur/.
func (m *Maildir) DeleteMessage(filename string) error {
	for _, subdir := range []string{"new", "cur"} {
		fullPath := filepath.Join(m.Directory, subdir, filename)
		if err := validatePathWithinDir(m.Directory, fullPath); err != nil {
			stdLogger.Warn("path traversal attempt detected in DeleteMessage", logging.F("filename", filename))
			return fmt.Errorf("invalid file path: path traversal detected")
		}
		if err := os.Remove(fullPath); err == nil {
			stdLogger.Info("message deleted", logging.F("path", fullPath))
			return nil
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete message: %w", err)
		}
	}
	return fmt.Errorf("message not found: %s", filename)
}

// Clear removes every message from new/ and cur/.
func (m *Maildir) Clear() error {
	files, err := m.ListMessages()
	if err != nil {
		return err
	}
	count := 0
	for _, file := range files {
		if err := os.Remove(file); err != nil {
			stdLogger.Error("failed to delete message", fmt.Errorf("%s: %v", file, err))
		} else {
			count++
		}
	}
	stdLogger.Info("cleared messages from mailbox", logging.F("count", count))
	return nil
}
