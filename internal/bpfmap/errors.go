package bpfmap

import "errors"

// ErrKeyExists is returned by Insert when the key is already present. The
// coordinator relies on this to avoid ever overwriting a live entry, which
// would reset the in-kernel packet/byte counters riding alongside it.
var ErrKeyExists = errors.New("bpfmap: key already exists")

// ErrKeyNotFound is returned by Delete when the key is absent.
var ErrKeyNotFound = errors.New("bpfmap: key not found")
