// Package config holds the VM's key-value configuration surface (spec
// §6), following the teacher's internal/jmx/config.go shape: a small
// struct of defaults plus an Apply method for overrides, no external
// config-file format imposed.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/mabhi256/jovm/internal/heap"
)

var classpathSeparator = os.PathListSeparator

// Config is the VM's full configuration surface, spec §6.
type Config struct {
	HeapSize             int // bytes, clamped to [256 KiB .. 16 MiB]
	StackHeight          int // cells per stack segment
	TransientRootsDepth  int
	PermanentRootsDepth  int
	Classpath            []string // platform-separated list, already split
	DebuggerEnabled      bool
	DebuggerTransport    string // adapter name, e.g. "tcp"
	DebuggerAddress      string // "host:port" (attach) or "port" (listen)
	DebuggerSuspendStart bool
	GCOnEveryAlloc       bool // debug: run a GC after every allocation
}

// Default returns the VM's default configuration.
func Default() *Config {
	return &Config{
		HeapSize:            1 * 1024 * 1024,
		StackHeight:         1024,
		TransientRootsDepth: 64,
		PermanentRootsDepth: 256,
		DebuggerTransport:   "tcp",
		DebuggerAddress:     "8000",
	}
}

// Apply overrides fields from a string-keyed map, the shape a CLI flag
// parser or an embedding host would hand in (mirrors the teacher's
// pattern of accepting loosely-typed overrides and validating as they're
// applied rather than requiring a strict schema up front).
func (c *Config) Apply(overrides map[string]string) error {
	for k, v := range overrides {
		switch k {
		case "heap_size":
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			c.HeapSize = clamp(n, heap.MinHeap, heap.MaxHeap)
		case "stack_height":
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			c.StackHeight = n
		case "transient_roots_depth":
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			c.TransientRootsDepth = n
		case "permanent_roots_depth":
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			c.PermanentRootsDepth = n
		case "classpath":
			c.Classpath = strings.Split(v, string(classpathSeparator))
		case "debugger.enabled":
			c.DebuggerEnabled = v == "true" || v == "1"
		case "debugger.transport":
			c.DebuggerTransport = v
		case "debugger.address":
			c.DebuggerAddress = v
		case "debugger.suspend_on_start":
			c.DebuggerSuspendStart = v == "true" || v == "1"
		case "gc_on_every_alloc":
			c.GCOnEveryAlloc = v == "true" || v == "1"
		}
	}
	c.HeapSize = clamp(c.HeapSize, heap.MinHeap, heap.MaxHeap)
	return nil
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
