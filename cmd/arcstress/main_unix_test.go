//go:build unix

package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMmapAllocator(t *testing.T) {
	r := runJSON(t, "--allocator", "mmap", "--goroutines", "4", "--iterations", "100", "--rounds", "2")
	require.Equal(t, 2, r.Drops)
}

func TestArenaAllocator(t *testing.T) {
	r := runJSON(t, "--allocator", "arena", "--goroutines", "4", "--iterations", "100", "--rounds", "4")
	require.Equal(t, 4, r.Drops)
	require.Equal(t, "ArenaAllocator", r.Stats["Allocator"])
}
