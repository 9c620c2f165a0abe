package store

import (
	"hash/fnv"
	"sync"
)

// stripedLock serialises writes to the same WorkItem id (§5: "two
// concurrent updates to the same id are linearised by a per-id mutex
// held for the duration of (read-existing, validate, write,
// update-indexes). Readers do not take this lock."). A fixed number of
// stripes keyed by a hash of the id bounds memory under large corpora
// while preserving per-id linearisation.
type stripedLock struct {
	stripes []sync.Mutex
}

const lockStripeCount = 256

func newStripedLock() *stripedLock {
	return &stripedLock{stripes: make([]sync.Mutex, lockStripeCount)}
}

func (l *stripedLock) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &l.stripes[h.Sum32()%uint32(len(l.stripes))]
}

func (l *stripedLock) Lock(id string)   { l.lockFor(id).Lock() }
func (l *stripedLock) Unlock(id string) { l.lockFor(id).Unlock() }
