// Copyright 2024 BINARY Members
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ssn implements the Serial Safety Net certifier over a
// multi-version in-memory flat table: per-record version chains, a
// transaction metadata table, and the three-phase SSN protocol (read,
// write, pre-commit validation) with a global-lock serial commit path and
// a lock-free parallel commit path.
package ssn

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/ssnstore/ssn/pkg/logger"
)

var errMkDir = errors.New("failed to create ssn dir")

// State is the engine's coarse lifecycle, mirroring the teacher's DB
// state machine.
type State uint32

const (
	_ State = iota
	StateInitialize
	StateOpened
	StateClosed
)

// Engine owns the flat table, the transaction metadata table, the
// process-wide commit counter and lock, and the garbage collector. It
// replaces the reference implementation's file-scope globals (Lsn, TMT[],
// Table[], SsnLock, GC queues — see §9's "Globals" design note) with
// fields on one value created at Open and passed to every worker's
// transactions, rather than hidden package-level singletons.
type Engine struct {
	config Config
	logger logger.Logger
	dir    string
	state  atomic.Uint32

	table []recordSlot
	tmt   *tmt
	arena versionArena

	// lsn is the global monotonically increasing commit-stamp counter
	// ("Lsn" in the reference implementation). It is a uint32 because
	// every stamp that flows into a Psstamp word must fit the packed
	// 32-bit half after the tag-bit shift (§9).
	lsn atomic.Uint32

	// ssnLock is the process-wide mutex the serial commit path holds
	// across its validation window ("SsnLock"). The parallel commit
	// path never touches it.
	ssnLock sync.Mutex

	gc *gcState

	stats Stats

	closeC chan struct{}
	closed chan struct{}
}

// Open validates cfg, builds the flat table of TupleNum records (each
// seeded with a committed sentinel version), and starts the background
// garbage collector. dir is an optional diagnostics hint, not a storage
// path: this engine persists nothing (§6 — "no wire protocol, no file
// formats, no persistent state"); Open still validates/creates it, the
// way the teacher's Open does, to leave room for a future log-file sink
// without changing the constructor's shape.
func Open(dir string, config Config) (*Engine, error) {
	if err := config.validate(); err != nil {
		return nil, errors.Wrap(err, "ssn: invalid config")
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(errMkDir, err.Error())
		}
	}

	e := &Engine{
		config: config,
		logger: logger.GetLogger(),
		dir:    dir,
		tmt:    newTMT(config.ThreadNum),
		table:  make([]recordSlot, config.TupleNum),
		closeC: make(chan struct{}),
		closed: make(chan struct{}),
	}
	e.state.Store(uint32(StateInitialize))

	for i := range e.table {
		e.table[i].latest.Store(e.arena.newSentinel(config.ValSize))
	}

	e.gc = newGCState(e)
	go e.gc.run(e.closeC, e.closed)

	e.state.Store(uint32(StateOpened))
	e.logger.Infof("ssn engine opened: threads=%d tuples=%d valsize=%d",
		config.ThreadNum, config.TupleNum, config.ValSize)
	return e, nil
}

// Close stops the garbage collector and waits for it to drain.
func (e *Engine) Close() {
	if State(e.state.Load()) == StateClosed {
		return
	}
	close(e.closeC)
	<-e.closed
	e.state.Store(uint32(StateClosed))
	e.logger.Infof("ssn engine closed")
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// NewTxn creates a transaction executor bound to worker id thid (1-based;
// see §9 on reader-bit numbering). The returned *Txn may be reused across
// sequential Begin/Commit-or-Abort cycles on the same worker goroutine.
// Begin keeps txids monotonic from the TMT alone: its max includes this
// worker's own published lastcstamp, so a retry after an abort starts no
// lower than the aborted attempt's txid.
func (e *Engine) NewTxn(thid int) *Txn {
	return &Txn{engine: e, thid: thid, status: TxnInFlight}
}

// Peek is a non-transactional diagnostic accessor: it returns the newest
// committed value at key with no snapshot semantics, the way the
// teacher's DB.Get reads straight from the newest memtable/SSTable entry.
// It is not part of the transactional read path (§3.2 of SPEC_FULL.md).
func (e *Engine) Peek(key int) ([]byte, bool) {
	ver := e.table[key].latest.Load()
	for ver.statusLoad() != VersionCommitted {
		ver = ver.committedPrev
	}
	out := make([]byte, len(ver.value))
	copy(out, ver.value)
	return out, true
}

// Stats returns a point-in-time snapshot of abort/commit counters.
func (e *Engine) Stats() StatsSnapshot {
	return StatsSnapshot{
		Commits:          e.stats.Commits.Load(),
		ReadPhaseAborts:  e.stats.ReadPhaseAborts.Load(),
		WritePhaseAborts: e.stats.WritePhaseAborts.Load(),
		CommitPhaseAborts: e.stats.CommitPhaseAborts.Load(),
		WWConflictAborts: e.stats.WWConflictAborts.Load(),
	}
}

// Stats holds the abort-cause taxonomy of §7/§3.1, the in-memory analogue
// of the reference implementation's Result/ErmiaResult counters.
type Stats struct {
	Commits           atomic.Uint64
	ReadPhaseAborts   atomic.Uint64
	WritePhaseAborts  atomic.Uint64
	CommitPhaseAborts atomic.Uint64
	WWConflictAborts  atomic.Uint64
}

func (s *Stats) record(cause AbortCause) {
	switch cause {
	case CauseReadPhase:
		s.ReadPhaseAborts.Add(1)
	case CauseWritePhase:
		s.WritePhaseAborts.Add(1)
	case CauseCommitPhase:
		s.CommitPhaseAborts.Add(1)
	case CauseWWConflict:
		s.WWConflictAborts.Add(1)
	}
}

// StatsSnapshot is an immutable copy of Stats for reporting.
type StatsSnapshot struct {
	Commits           uint64
	ReadPhaseAborts   uint64
	WritePhaseAborts  uint64
	CommitPhaseAborts uint64
	WWConflictAborts  uint64
}
