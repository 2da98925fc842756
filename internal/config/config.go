// Package config holds the server's static configuration and the
// per-query runtime toggles operators can flip without a restart.
package config

import (
	"sync"
	"time"
)

// DefaultTxnTimeout is the deadline armed on Init->Txn when no override is
// configured (spec.md §4.E).
const DefaultTxnTimeout = 5 * time.Second

// Server is the static configuration wired at startup: database path,
// extension search paths, response-size cap, and txn timeout. Mirrors the
// teacher's preference for a small explicit config struct with a
// constructor filling in defaults (dbconn.NewDBConfig).
type Server struct {
	DBPath           string
	ExtensionPaths   []string
	MaxResponseSize  uint64
	TxnTimeout       time.Duration
	OpenRetryDelay   time.Duration // fixed backoff between in-worker open retries
	OpenRetryCount   int           // in-worker retries on transient busy
	ColdStartRetries int           // factory-level outer retries
	ColdStartDelay   time.Duration
	MaxLogFrameCount uint64
	MaxLogDuration   time.Duration
}

// NewServer returns a Server with the defaults spec.md names explicitly:
// 5s txn timeout, 10 in-worker retries at ~10ms, 100 cold-start retries at
// 100ms (spec.md §4.E, §4.F).
func NewServer() *Server {
	return &Server{
		MaxResponseSize:  0, // 0 == unlimited
		TxnTimeout:       DefaultTxnTimeout,
		OpenRetryDelay:   10 * time.Millisecond,
		OpenRetryCount:   10,
		ColdStartRetries: 100,
		ColdStartDelay:   100 * time.Millisecond,
		MaxLogFrameCount: 1000,
		MaxLogDuration:   0,
	}
}

// Runtime is the set of per-query toggles an operator can flip while the
// server is running (spec.md §4.F): block_reads, block_writes, and the
// human-readable reason surfaced in the resulting error.
type Runtime struct {
	BlockReads  bool
	BlockWrites bool
	BlockReason string
}

// Store holds a Runtime snapshot behind a mutex and is read once per query
// (spec.md §4.F "Runtime config is read per query"), not held across the
// query's execution.
type Store struct {
	mu      sync.RWMutex
	current Runtime
}

// NewStore returns a Store with nothing blocked.
func NewStore() *Store {
	return &Store{}
}

// Get returns a copy of the current runtime config.
func (s *Store) Get() Runtime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set replaces the current runtime config wholesale.
func (s *Store) Set(r Runtime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = r
}

// SetBlockReads toggles the block_reads flag.
func (s *Store) SetBlockReads(blocked bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.BlockReads = blocked
	s.current.BlockReason = reason
}

// SetBlockWrites toggles the block_writes flag.
func (s *Store) SetBlockWrites(blocked bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.BlockWrites = blocked
	s.current.BlockReason = reason
}
