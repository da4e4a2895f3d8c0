package relay

import (
	"fmt"

	"linechat/internal/protocol"
)

// Registry remembers the latest file message per file name that one
// connection has seen go through the hub. It is owned by a single handler
// goroutine and is not safe for concurrent use.
type Registry struct {
	order []string
	files map[string]*protocol.File
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{files: make(map[string]*protocol.File)}
}

// Put stores f under its file name, replacing an earlier upload of the same
// name. The listing position of a name is fixed by its first upload.
func (r *Registry) Put(f *protocol.File) {
	if _, ok := r.files[f.FileName]; !ok {
		r.order = append(r.order, f.FileName)
	}
	r.files[f.FileName] = f
}

// Get looks up a file by exact name.
func (r *Registry) Get(name string) (*protocol.File, bool) {
	f, ok := r.files[name]
	return f, ok
}

// Len returns the number of distinct file names.
func (r *Registry) Len() int {
	return len(r.order)
}

// Listing renders one "<uploader>: <size> bytes -> <name>" line per entry.
func (r *Registry) Listing() []string {
	lines := make([]string, 0, len(r.order))
	for _, name := range r.order {
		f := r.files[name]
		lines = append(lines, fmt.Sprintf("%s: %d bytes -> %s", f.User.Username, f.FileSize, f.FileName))
	}
	return lines
}
