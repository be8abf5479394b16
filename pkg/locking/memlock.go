package locking

import "sync"

// MemLock is a Group implementation that uses in-memory locks (mutexes) for mutual
// exclusion. It only works within a single process and does nothing to stop
// another process sharing the same cache root from writing the same key.
//
// Source URLs are an unbounded key space, so a key's mutex is dropped as soon
// as no caller holds or waits on it.
type MemLock struct {
	sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func NewMemLock() *MemLock {
	return &MemLock{
		locks: make(map[string]*refLock),
	}
}

func (s *MemLock) DoWithLock(key string, fn func() (interface{}, error)) (v interface{}, err error) {
	s.Lock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &refLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.Unlock()

	lock.Lock()
	defer s.release(key, lock)
	return fn()
}

func (s *MemLock) release(key string, lock *refLock) {
	lock.Unlock()

	s.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, key)
	}
	s.Unlock()
}

// Len returns the number of keys currently held or waited on.
func (s *MemLock) Len() int {
	s.Lock()
	defer s.Unlock()
	return len(s.locks)
}
