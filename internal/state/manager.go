package state

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"arenafs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("state")

	// ErrClosed is returned by operations on a closed manager.
	ErrClosed = errors.New("state: image is not open")
)

const (
	backupDirName = ".arenafs-backups"
	backupPrefix  = "image-"
	backupExt     = ".img"
)

// Manager owns the backing image of one filesystem: it creates the file
// at the right size, maps it, flushes it, and keeps a few backups.
type Manager struct {
	imagePath   string
	backupDir   string
	backupCount int
	size        int64

	mu   sync.Mutex
	fd   int
	data []byte
}

// NewManager creates a manager for an image of size bytes at imagePath.
// An empty imagePath selects an anonymous in-memory image that is lost on
// Close. backupCount is the number of image backups to keep; 0 disables
// backups.
func NewManager(imagePath string, size int64, backupCount int) (*Manager, error) {
	if size <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %d", size)
	}
	if backupCount < 0 {
		return nil, fmt.Errorf("backup count must not be negative, got %d", backupCount)
	}
	m := &Manager{size: size, backupCount: backupCount, fd: -1}
	if imagePath == "" {
		logger.Debug("Using anonymous image of %d bytes", size)
		return m, nil
	}

	absPath, err := filepath.Abs(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve image path %s: %w", imagePath, err)
	}
	logger.Debug("Resolved image path: %s", absPath)

	imageDir := filepath.Dir(absPath)
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory %s: %w", imageDir, err)
	}
	m.imagePath = absPath
	m.backupDir = filepath.Join(imageDir, backupDirName)
	return m, nil
}

// Path returns the absolute image path, or "" for an anonymous image.
func (m *Manager) Path() string {
	return m.imagePath
}

// Open maps the image. A missing or empty file is created at the
// configured size and reported as Fresh. An existing file of a different
// size is rejected: the arena size is fixed when the image is formatted.
// An existing image is backed up before it is mapped.
func (m *Manager) Open() (*Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data != nil {
		return nil, fmt.Errorf("image %s is already open", m.imagePath)
	}
	if m.imagePath == "" {
		data, err := unix.Mmap(-1, 0, int(m.size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
		if err != nil {
			return nil, fmt.Errorf("failed to map anonymous image: %w", err)
		}
		m.data = data
		return &Image{Data: data, Fresh: true}, nil
	}

	fd, err := unix.Open(m.imagePath, unix.O_CREAT|unix.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", m.imagePath, err)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to stat image %s: %w", m.imagePath, err)
	}

	fresh := stat.Size == 0
	switch {
	case fresh:
		logger.Info("Creating image %s (%d bytes)", m.imagePath, m.size)
		if err := unix.Ftruncate(fd, m.size); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("failed to size image to %d bytes: %w", m.size, err)
		}
	case stat.Size != m.size:
		unix.Close(fd)
		return nil, fmt.Errorf("image %s is %d bytes but %d was requested", m.imagePath, stat.Size, m.size)
	default:
		if err := m.createBackup(); err != nil {
			// The image itself is still usable.
			logger.Warn("Failed to create backup: %v", err)
		}
	}

	data, err := unix.Mmap(fd, 0, int(m.size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to map image %s: %w", m.imagePath, err)
	}
	m.fd = fd
	m.data = data
	logger.Debug("Mapped image %s (fresh=%v)", m.imagePath, fresh)
	return &Image{Data: data, Path: m.imagePath, Fresh: fresh}, nil
}

// Flush writes the mapped image back to its file and waits for the write
// to complete. It is a no-op for an anonymous image.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked()
}

func (m *Manager) flushLocked() error {
	if m.data == nil {
		return ErrClosed
	}
	if m.fd < 0 {
		return nil
	}
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("failed to sync image %s: %w", m.imagePath, err)
	}
	logger.Trace("Flushed image %s", m.imagePath)
	return nil
}

// Close flushes and unmaps the image. The Image returned by Open must not
// be used afterwards. Closing a closed manager is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil
	}

	firstErr := m.flushLocked()
	if err := unix.Munmap(m.data); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to unmap image: %w", err)
	}
	if m.fd >= 0 {
		if err := unix.Close(m.fd); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close image: %w", err)
		}
	}
	m.data = nil
	m.fd = -1
	logger.Debug("Closed image %s", m.imagePath)
	return firstErr
}

// createBackup copies the current image file into the backup directory
// under a timestamped name.
func (m *Manager) createBackup() error {
	if m.backupCount == 0 {
		return nil
	}
	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory %s: %w", m.backupDir, err)
	}

	src, err := os.Open(m.imagePath)
	if err != nil {
		return err
	}
	defer src.Close()

	timestamp := time.Now().UTC().Format("20060102-150405.000000000")
	backupPath := filepath.Join(m.backupDir, backupPrefix+timestamp+backupExt)
	logger.Debug("Creating backup: %s", backupPath)

	dst, err := os.OpenFile(backupPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(backupPath)
		return fmt.Errorf("failed to write backup: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	return m.cleanupOldBackups()
}

// Backups lists the saved image copies, newest first.
func (m *Manager) Backups() ([]string, error) {
	backups, err := m.listBackups()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(backups))
	for i, b := range backups {
		paths[i] = b.path
	}
	return paths, nil
}

func (m *Manager) listBackups() ([]backup, error) {
	if m.backupDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(m.backupDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	backups := make([]backup, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, backupPrefix) || filepath.Ext(name) != backupExt {
			continue
		}
		backups = append(backups, backup{
			path: filepath.Join(m.backupDir, name),
			name: name,
		})
	}

	// Timestamped names sort chronologically; newest first.
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].name > backups[j].name
	})
	return backups, nil
}

// cleanupOldBackups removes old backup files, keeping only the most recent ones
func (m *Manager) cleanupOldBackups() error {
	backups, err := m.listBackups()
	if err != nil {
		return err
	}
	for i := m.backupCount; i < len(backups); i++ {
		logger.Debug("Removing old backup: %s", backups[i].path)
		if err := os.Remove(backups[i].path); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", backups[i].path, err)
		}
	}
	return nil
}
