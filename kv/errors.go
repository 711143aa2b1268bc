package kv

import "errors"

// ErrKeyExists is returned by Insert when the key is already present.
var ErrKeyExists = errors.New("kv: key already exists")

// ErrCorrupt wraps errors raised when a record read runs past the end of
// its file (short read). Decoded records are not otherwise validated: an
// impossible slot count is not reported.
var ErrCorrupt = errors.New("kv: corrupt record")

// ErrClosed is returned by Insert, Remove, Get, Modify and Range when
// invoked after Close.
var ErrClosed = errors.New("kv: tree is closed")
