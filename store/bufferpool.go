package store

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// BufferPool maps page index to an in-memory Frame. It has no
// eviction policy: a frame lives from its first Fix until Clear or
// process shutdown, matching the spec's "acceptable for the design"
// call-out that pinned frames must never be evicted or overwritten
// from disk.
type BufferPool struct {
	mu     sync.Mutex
	pager  *Pager
	frames map[uint32]*Frame
	logger *zap.Logger
}

func NewBufferPool(pager *Pager, logger *zap.Logger) *BufferPool {
	return &BufferPool{
		pager:  pager,
		frames: make(map[uint32]*Frame),
		logger: logger,
	}
}

// Fix returns the frame for page idx, loading it from the pager on
// first access, and increments its pin count. Callers must call
// Unfix exactly once for every Fix, on every exit path.
func (bp *BufferPool) Fix(idx uint32) (*Frame, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	f, ok := bp.frames[idx]
	if !ok {
		data, err := bp.pager.ReadPage(idx)
		if err != nil {
			return nil, err
		}
		f = newFrame(data)
		bp.frames[idx] = f
	}
	f.pinCount++
	return f, nil
}

// Unfix decrements the pin count of page idx, if present and pinned.
func (bp *BufferPool) Unfix(idx uint32) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	f, ok := bp.frames[idx]
	if !ok || f.pinCount == 0 {
		return
	}
	f.pinCount--
}

// Use marks the frame for page idx dirty. A Fix does not imply
// mutation - callers must call Use explicitly.
func (bp *BufferPool) Use(idx uint32) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if f, ok := bp.frames[idx]; ok {
		f.dirty = true
	}
}

// Force writes the frame for page idx through to disk if it is dirty,
// then clears its dirty flag. A no-op if the frame does not exist or
// is clean.
func (bp *BufferPool) Force(idx uint32) error {
	bp.mu.Lock()
	f, ok := bp.frames[idx]
	bp.mu.Unlock()

	if !ok || !f.dirty {
		return nil
	}
	if err := bp.pager.WritePage(idx, f.data); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// Clear discards every frame, simulating the loss of volatile memory
// on a crash. Nothing is written to disk.
func (bp *BufferPool) Clear() {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	bp.frames = make(map[uint32]*Frame)
}

// ForEach calls fn for every (page index, frame) pair currently
// resident in the pool, in ascending page order, for deterministic
// checkpoint and commit sweeps.
func (bp *BufferPool) ForEach(fn func(pageIdx uint32, f *Frame)) {
	bp.mu.Lock()
	indices := make([]uint32, 0, len(bp.frames))
	for idx := range bp.frames {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	bp.mu.Unlock()

	for _, idx := range indices {
		bp.mu.Lock()
		f := bp.frames[idx]
		bp.mu.Unlock()
		fn(idx, f)
	}
}
