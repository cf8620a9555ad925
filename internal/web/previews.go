package web

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"taxotrack/internal/core"
)

// defaultPreviewTTL applies when the configured TTL is zero.
const defaultPreviewTTL = 30 * time.Minute

// stagedPreview holds a parsed structure preview between the preview
// call and the apply that claims it. The snapshot must be the one the
// change set was built against, so both travel together.
type stagedPreview struct {
	userID   uuid.UUID
	fileName string
	snap     *core.Snapshot
	changes  *core.ChangeSet
	expires  time.Time
}

// previewStore keeps staged previews in memory. Entries expire after
// the TTL and are swept lazily on the next put.
type previewStore struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[uuid.UUID]*stagedPreview
}

func newPreviewStore(ttl time.Duration) *previewStore {
	if ttl <= 0 {
		ttl = defaultPreviewTTL
	}
	return &previewStore{ttl: ttl, m: make(map[uuid.UUID]*stagedPreview)}
}

// put stages a preview and returns its claim ID and expiry.
func (p *previewStore) put(userID uuid.UUID, fileName string, snap *core.Snapshot, cs *core.ChangeSet) (uuid.UUID, time.Time) {
	id := uuid.New()
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range p.m {
		if now.After(v.expires) {
			delete(p.m, k)
		}
	}
	sp := &stagedPreview{
		userID:   userID,
		fileName: fileName,
		snap:     snap,
		changes:  cs,
		expires:  now.Add(p.ttl),
	}
	p.m[id] = sp
	return id, sp.expires
}

// take claims a staged preview for the user and removes it. Expired
// entries and entries staged by someone else are not found.
func (p *previewStore) take(userID, id uuid.UUID) (*stagedPreview, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sp, ok := p.m[id]
	if !ok {
		return nil, false
	}
	if time.Now().After(sp.expires) {
		delete(p.m, id)
		return nil, false
	}
	if sp.userID != userID {
		return nil, false
	}
	delete(p.m, id)
	return sp, true
}

// restore puts a claimed preview back, keeping its original expiry.
// Used when starting the apply job fails after the claim.
func (p *previewStore) restore(id uuid.UUID, sp *stagedPreview) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[id] = sp
}

func (p *previewStore) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
