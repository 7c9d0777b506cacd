//go:build !linux

package store

import "os"

// applyReadAheadHint is a no-op outside Linux; FADV_RANDOM has no portable
// equivalent in the standard library.
func applyReadAheadHint(f *os.File) {}
