package fs

import (
	"path"
	"strings"
	"sync"
	"syscall"

	"arenafs/internal/logging"
)

var (
	pathLogger = logging.GetLogger().WithPrefix("path")
)

// VirtualPath is the current path of a live node. The kernel keeps node
// objects across renames, so the path a node answers to can change after
// the node was handed out; the registry rewrites it in place. Once the
// entry is removed the path is dead and never resolves again, even if a
// new entry takes the same name.
type VirtualPath struct {
	mu sync.RWMutex
	// always absolute and clean
	path    string
	removed bool
}

func cleanPath(p string) string {
	cleaned := path.Clean("/" + p)
	pathLogger.Trace("Cleaned path: %q -> %q", p, cleaned)
	return cleaned
}

// String returns the string representation of the path
func (vp *VirtualPath) String() string {
	vp.mu.RLock()
	defer vp.mu.RUnlock()
	return vp.path
}

// Live returns the path, or ENOENT once the entry was removed.
func (vp *VirtualPath) Live() (string, error) {
	vp.mu.RLock()
	defer vp.mu.RUnlock()
	if vp.removed {
		pathLogger.Debug("Stale node for removed %q", vp.path)
		return "", syscall.ENOENT
	}
	return vp.path, nil
}

// Child returns the live path of name below vp.
func (vp *VirtualPath) Child(name string) (string, error) {
	p, err := vp.Live()
	if err != nil {
		return "", err
	}
	return path.Join(p, name), nil
}

func (vp *VirtualPath) set(p string) {
	vp.mu.Lock()
	vp.path = p
	vp.mu.Unlock()
}

func (vp *VirtualPath) kill() {
	vp.mu.Lock()
	vp.removed = true
	vp.mu.Unlock()
}

// PathRegistry hands out one shared VirtualPath per live path, so that a
// rename can move every node below the renamed entry at once.
type PathRegistry struct {
	mu     sync.Mutex
	paths  map[string]*VirtualPath
	logger *logging.Logger
}

// NewPathRegistry creates an empty registry.
func NewPathRegistry() *PathRegistry {
	return &PathRegistry{
		paths:  make(map[string]*VirtualPath),
		logger: logging.GetLogger().WithPrefix("pathreg"),
	}
}

// Get returns the shared VirtualPath for p, creating it on first use.
func (r *PathRegistry) Get(p string) *VirtualPath {
	p = cleanPath(p)
	r.mu.Lock()
	defer r.mu.Unlock()
	if vp, ok := r.paths[p]; ok {
		return vp
	}
	vp := &VirtualPath{path: p}
	r.paths[p] = vp
	r.logger.Trace("Registered %q", p)
	return vp
}

// Rename moves from, and everything registered below it, to to.
func (r *PathRegistry) Rename(from, to string) {
	from, to = cleanPath(from), cleanPath(to)
	if from == to || from == "/" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := from + "/"
	moved := make(map[string]*VirtualPath)
	for p, vp := range r.paths {
		if p != from && !strings.HasPrefix(p, prefix) {
			continue
		}
		newPath := to + strings.TrimPrefix(p, from)
		r.logger.Trace("Moving %q -> %q", p, newPath)
		vp.set(newPath)
		delete(r.paths, p)
		moved[newPath] = vp
	}
	for p, vp := range moved {
		r.paths[p] = vp
	}
	r.logger.Debug("Renamed %q to %q (%d live paths moved)", from, to, len(moved))
}

// Forget drops p and everything registered below it. Nodes still holding
// a dropped path see it as removed.
func (r *PathRegistry) Forget(p string) {
	p = cleanPath(p)
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := p + "/"
	for key, vp := range r.paths {
		if key == p || strings.HasPrefix(key, prefix) {
			vp.kill()
			delete(r.paths, key)
		}
	}
	r.logger.Trace("Forgot %q", p)
}

// Len returns the number of registered paths.
func (r *PathRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}
