package locking

// locking.Group is an abstraction for running functions with mutual exclusion
// over sets of keys. The cache uses it to make the "is this source already
// cached, if not write it and register it" sequence atomic per source URL.
type Group interface {
	// DoWithLock runs the given function with mutual exclusion over the given key.
	DoWithLock(key string, fn func() (interface{}, error)) (v interface{}, err error)
}
