// Package audiocache keeps finished playback streams on disk so a repeat
// request for the same source is served locally instead of being fetched and
// re-encoded.
//
// When a stream ends, Writer checks whether it is worth keeping (known
// source, known channel count, not longer than the configured ceiling) and
// copies it into <root>/<host>/<name> as a DCA1 artifact: the JSON header
// from package dca followed by the Opus payload. The index maps the source
// URL to that path. Reader looks a source up and returns a Playback
// positioned at the payload; anything that goes wrong on that path is a miss.
//
// Cache is the entry point that wires these together from a config.Config.
package audiocache
