// Package dca implements the DCA1 container used for cached audio artifacts.
//
// An artifact is laid out as:
//
//	"DCA1" | int32 little-endian header length | JSON header | Opus payload
//
// The payload runs to end of file and is never interpreted here.
package dca
