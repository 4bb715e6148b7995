package delivery

import (
	"sort"
	"sync/atomic"
)

// ChannelHandle is the backend-specific identifier of a destination.
type ChannelHandle struct {
	ID          string `json:"id"`
	Destination string `json:"destination"`
	MemberCount int    `json:"member_count"`
	Simulated   bool   `json:"simulated"`
}

// Directory maps destination names to channel handles. The mapping is only
// ever replaced as a whole, so readers never observe a mix of two discoveries.
type Directory struct {
	entries atomic.Pointer[map[string]ChannelHandle]
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	d := &Directory{}
	empty := map[string]ChannelHandle{}
	d.entries.Store(&empty)
	return d
}

// Resolve looks up the handle for a destination.
func (d *Directory) Resolve(destination string) (ChannelHandle, bool) {
	h, ok := (*d.entries.Load())[destination]
	return h, ok
}

// ReplaceAll swaps in a new mapping built from handles. When two handles share
// a destination the later one wins.
func (d *Directory) ReplaceAll(handles []ChannelHandle) {
	next := make(map[string]ChannelHandle, len(handles))
	for _, h := range handles {
		next[h.Destination] = h
	}
	d.entries.Store(&next)
}

// Len returns the number of known destinations.
func (d *Directory) Len() int {
	return len(*d.entries.Load())
}

// Snapshot returns a copy of all handles ordered by destination.
func (d *Directory) Snapshot() []ChannelHandle {
	current := *d.entries.Load()
	out := make([]ChannelHandle, 0, len(current))
	for _, h := range current {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Destination < out[j].Destination })
	return out
}
