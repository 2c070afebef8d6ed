// Copyright 2025 BINARY Members
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

package ssn

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrDiscardedTxn is returned by any Txn method called after the
// transaction has already committed or aborted.
var ErrDiscardedTxn = errors.New("ssn: transaction already committed or aborted")

// ErrKeyOutOfRange is returned when a key falls outside [0, TupleNum).
var ErrKeyOutOfRange = errors.New("ssn: key out of range")

// AbortCause classifies why a transaction aborted, mirroring the
// per-site counters the reference implementation keeps on its Result
// struct rather than folding every abort into one undifferentiated
// outcome.
type AbortCause int

const (
	// CauseWWConflict: a first-updater-wins write-write race — another
	// transaction already holds (or has installed) a version of this
	// record that our write cannot order after.
	CauseWWConflict AbortCause = iota
	// CauseReadPhase: verifyExclusionOrAbort failed right after a read
	// folded a committed successor's sstamp into π(T).
	CauseReadPhase
	// CauseWritePhase: verifyExclusionOrAbort failed right after a write
	// folded an overwritten version's pstamp into η(T).
	CauseWritePhase
	// CauseCommitPhase: the final η(T) < π(T) check failed during
	// pre-commit validation, after both stamps were fully finalized.
	CauseCommitPhase
)

func (c AbortCause) String() string {
	switch c {
	case CauseWWConflict:
		return "ww-conflict"
	case CauseReadPhase:
		return "read-phase exclusion"
	case CauseWritePhase:
		return "write-phase exclusion"
	case CauseCommitPhase:
		return "commit-phase exclusion"
	default:
		return "unknown"
	}
}

// AbortError is returned whenever a transaction aborts; Cause reports
// which of the four detection sites triggered it.
type AbortError struct {
	Cause AbortCause
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("ssn: transaction aborted: %s", e.Cause)
}

// txnSstampInit is π(T)'s starting value: "no successor observed yet",
// large enough that any real decoded stamp folds below it via min.
const txnSstampInit uint32 = ^uint32(0) >> 1

type readEntry struct {
	slot int
	ver  *Version
}

type writeEntry struct {
	slot          int
	ver           *Version
	committedPrev *Version
	value         []byte
}

// Txn is one worker's transaction executor. Callers obtain one from
// Engine.NewTxn and drive it through Begin, a sequence of Read/Write
// calls, and exactly one of Commit, ParallelCommit, or Abort. The same
// *Txn may be reused across sequential transactions on one worker
// goroutine, the way the reference TxExecutor object is reused across the
// benchmark's generate/read/write/commit loop; Begin resets all
// per-transaction state, so a fresh Txn for the same worker behaves alike.
type Txn struct {
	engine *Engine
	thid   int

	status TxnStatus
	desc   *txnDescriptor

	txid uint64

	// pstamp and sstamp are this transaction's accumulating η(T)/π(T),
	// finalized at commit time.
	pstamp uint32
	sstamp uint32

	readSet  []readEntry
	writeSet []writeEntry
}

// Begin starts (or restarts, after a prior Commit/Abort) the transaction:
// it assigns a fresh txid at least as large as every worker's last
// published commit stamp, publishes a new TMT descriptor in place of the
// old one, and resets the local read/write sets.
func (t *Txn) Begin() {
	var maxc uint64
	for i := 1; i < len(t.engine.tmt.slots); i++ {
		if lc := t.engine.tmt.load(i).lastcstamp.Load(); lc > maxc {
			maxc = lc
		}
	}
	txid := maxc + 1

	desc := newTxnDescriptor(txid, maxc)
	t.engine.tmt.swap(t.thid, desc)

	t.desc = desc
	t.txid = txid
	t.pstamp = 0
	t.sstamp = txnSstampInit
	t.status = TxnInFlight
	t.readSet = pools.getReadSet()
	t.writeSet = pools.getWriteSet()

	t.engine.gc.Begin(txid)
}

// Read performs ssn_tread: it returns the newest version visible as of
// txid, folding a committed successor's sstamp into π(T) or, if no
// committed successor exists yet, registering this transaction as a reader
// so a writer can find it.
func (t *Txn) Read(key int) ([]byte, error) {
	if t.status != TxnInFlight {
		return nil, ErrDiscardedTxn
	}
	if key < 0 || key >= len(t.engine.table) {
		return nil, ErrKeyOutOfRange
	}

	for i := range t.writeSet {
		if t.writeSet[i].slot == key {
			return t.writeSet[i].value, nil
		}
	}
	for i := range t.readSet {
		if t.readSet[i].slot == key {
			return t.readSet[i].ver.value, nil
		}
	}

	ver := t.engine.table[key].latest.Load()
	if ver.statusLoad() != VersionCommitted {
		ver = ver.committedPrev
	}
	for ver != nil && uint64(decodeStamp(ver.cstampTagged())) > t.txid {
		ver = ver.committedPrev
	}
	if ver == nil {
		return nil, errors.Errorf("ssn: version chain exhausted for key %d", key)
	}

	sstamp := ver.psstamp.atomicLoadSstamp()
	switch {
	case sstamp == noSuccessor || isTagged(sstamp):
		// No committed successor yet. A tagged sstamp means an in-flight
		// writer already holds the successor slot; the read is recorded
		// either way so that commit resolves the tag (Commit folds the
		// successor's stamp once it has committed, ParallelCommit waits
		// on the tagged peer) and so the overwriter's ParallelCommit finds
		// our reader bit on ver.
		ver.setReaderBit(t.thid)
		t.readSet = append(t.readSet, readEntry{slot: key, ver: ver})
	default:
		if s := decodeStamp(sstamp); s < t.sstamp {
			t.sstamp = s
		}
	}

	if err := t.verifyExclusionOrAbort(CauseReadPhase); err != nil {
		return nil, err
	}
	return ver.value, nil
}

// Write performs ssn_twrite: first-updater-wins against any concurrent
// writer or any writer that has committed since this transaction's
// snapshot, then installs a new in-flight version and tags the
// overwritten version's sstamp so readers and other writers see the
// conflict immediately.
func (t *Txn) Write(key int, value []byte) error {
	if t.status != TxnInFlight {
		return ErrDiscardedTxn
	}
	if key < 0 || key >= len(t.engine.table) {
		return ErrKeyOutOfRange
	}

	for i := range t.writeSet {
		if t.writeSet[i].slot == key {
			copy(t.writeSet[i].value, value)
			copy(t.writeSet[i].ver.value, value)
			return nil
		}
	}

	slot := &t.engine.table[key]
	newVer := t.engine.arena.newInFlight(t.thid, len(value))
	copy(newVer.value, value)

	var committedBase *Version
	for {
		old := slot.latest.Load()
		if old.statusLoad() == VersionInFlight {
			return t.abortWithCause(CauseWWConflict)
		}
		if old.statusLoad() == VersionCommitted {
			committedBase = old
		} else {
			committedBase = old.committedPrev
		}
		if uint64(decodeStamp(committedBase.cstampTagged())) > t.txid {
			return t.abortWithCause(CauseWWConflict)
		}

		newVer.prev = old
		newVer.committedPrev = committedBase
		if slot.latest.CompareAndSwap(old, newVer) {
			break
		}
	}

	committedBase.psstamp.atomicStoreSstamp(taggedWorker(t.thid))
	if p := committedBase.psstamp.atomicLoadPstamp(); p > t.pstamp {
		t.pstamp = p
	}

	for i, e := range t.readSet {
		if e.slot == key {
			e.ver.clearReaderBit(t.thid)
			t.readSet = append(t.readSet[:i], t.readSet[i+1:]...)
			break
		}
	}

	t.writeSet = append(t.writeSet, writeEntry{
		slot:          key,
		ver:           newVer,
		committedPrev: committedBase,
		value:         newVer.value,
	})

	return t.verifyExclusionOrAbort(CauseWritePhase)
}

// verifyExclusionOrAbort checks η(T) < π(T) and aborts with cause if the
// exclusion window has already collapsed, letting a doomed transaction
// fail fast instead of doing further useless work.
func (t *Txn) verifyExclusionOrAbort(cause AbortCause) error {
	if t.pstamp >= t.sstamp {
		return t.abortWithCause(cause)
	}
	return nil
}

// Commit performs ssn_commit: the serial validation path, guarded by the
// engine-wide ssnLock for the whole finalize-and-check window.
func (t *Txn) Commit() error {
	if t.status != TxnInFlight {
		return ErrDiscardedTxn
	}
	t.status = TxnCommitting
	t.desc.statusStore(TxnCommitting)

	cstamp := t.engine.lsn.Add(1)
	t.desc.cstamp.Store(uint64(cstamp))

	t.engine.ssnLock.Lock()

	for _, w := range t.writeSet {
		if p := w.committedPrev.psstamp.atomicLoadPstamp(); p > t.pstamp {
			t.pstamp = p
		}
	}

	if cstamp < t.sstamp {
		t.sstamp = cstamp
	}
	for _, r := range t.readSet {
		sstamp := r.ver.psstamp.atomicLoadSstamp()
		if sstamp == noSuccessor || isTagged(sstamp) {
			continue
		}
		if s := decodeStamp(sstamp); s < t.sstamp {
			t.sstamp = s
		}
	}

	if t.pstamp >= t.sstamp {
		t.engine.ssnLock.Unlock()
		return t.abortWithCause(CauseCommitPhase)
	}

	// Every version this transaction read is now known to be a
	// predecessor of a committed transaction at cstamp: raise its pstamp
	// accordingly so a future overwriter inherits the right η(T) lower
	// bound, the way ssn_commit's "update eta" step does.
	for _, r := range t.readSet {
		if p := r.ver.psstamp.atomicLoadPstamp(); cstamp > p {
			r.ver.psstamp.atomicStorePstamp(cstamp)
		}
		r.ver.clearReaderBit(t.thid)
	}
	for _, w := range t.writeSet {
		w.committedPrev.psstamp.atomicStoreSstamp(committedStamp(t.sstamp))
		w.ver.psstamp.init(t.pstamp, noSuccessor)
		w.ver.cstamp.Store(committedStamp(cstamp))
		w.ver.statusStore(VersionCommitted)
	}

	t.status = TxnCommitted
	t.desc.statusStore(TxnCommitted)
	t.desc.lastcstamp.Store(uint64(cstamp))
	t.engine.ssnLock.Unlock()

	t.engine.gc.Done(t.txid)
	t.engine.stats.Commits.Add(1)
	t.release()
	return nil
}

// ParallelCommit performs ssn_parallel_commit: the lock-free path. π(T)
// and η(T) are finalized by spinning on the TMT descriptors of the
// specific peers this transaction actually overlapped with — the worker
// tagged into a read successor's sstamp, or the workers whose reader bits
// are set on an overwritten version — rather than taking the process-wide
// lock.
func (t *Txn) ParallelCommit() error {
	if t.status != TxnInFlight {
		return ErrDiscardedTxn
	}
	t.status = TxnCommitting
	t.desc.statusStore(TxnCommitting)

	cstamp := t.engine.lsn.Add(1)
	t.desc.cstamp.Store(uint64(cstamp))

	if cstamp < t.sstamp {
		t.sstamp = cstamp
	}
	for _, r := range t.readSet {
		sstamp := r.ver.psstamp.atomicLoadSstamp()
		if sstamp == noSuccessor {
			continue
		}
		if isTagged(sstamp) {
			peerID := taggedWorkerID(sstamp)
			peer := t.engine.tmt.load(peerID)
			if peer.statusLoad() == TxnInFlight {
				// Peer hasn't started committing yet and will receive a
				// larger cstamp than ours whenever it does, so it cannot
				// be our successor.
				continue
			}
			for peer.cstamp.Load() == 0 && peer.statusLoad() != TxnAborted {
				peer = t.engine.tmt.load(peerID)
			}
			if peer.statusLoad() == TxnAborted {
				continue
			}
			for peer.statusLoad() == TxnCommitting && peer.cstamp.Load() < cstamp {
				peer = t.engine.tmt.load(peerID)
			}
			if s := uint32(peer.sstamp.Load()); s != 0 && s < t.sstamp {
				t.sstamp = s
			}
			continue
		}
		if s := decodeStamp(sstamp); s < t.sstamp {
			t.sstamp = s
		}
	}

	for _, w := range t.writeSet {
		if p := w.committedPrev.psstamp.atomicLoadPstamp(); p > t.pstamp {
			t.pstamp = p
		}
		bits := w.committedPrev.readerBits()
		for peerID := 1; peerID < len(t.engine.tmt.slots); peerID++ {
			if bits&(uint64(1)<<uint(peerID)) == 0 {
				continue
			}
			peer := t.engine.tmt.load(peerID)
			if peer.statusLoad() == TxnInFlight {
				// Reader peer hasn't started committing yet and will
				// receive a larger cstamp than ours whenever it does, so
				// it is not a predecessor that committed before us and
				// nothing is folded into η(T) for it.
				continue
			}
			for peer.cstamp.Load() == 0 && peer.statusLoad() != TxnAborted {
				peer = t.engine.tmt.load(peerID)
			}
			if peer.statusLoad() == TxnAborted {
				continue
			}
			for peer.statusLoad() == TxnCommitting && peer.cstamp.Load() < cstamp {
				peer = t.engine.tmt.load(peerID)
			}
			// Prefer the peer's sstamp over its cstamp when folding into
			// η(T): the peer's own π(T) is the tighter bound the SSN
			// construction calls for here.
			if s := uint32(peer.sstamp.Load()); s != 0 && s > t.pstamp {
				t.pstamp = s
			}
		}
	}

	if t.pstamp >= t.sstamp {
		return t.abortWithCause(CauseCommitPhase)
	}

	t.desc.sstamp.Store(uint64(t.sstamp))

	// Same predecessor-pstamp bump as the serial path, done with a CAS
	// loop since no lock protects this against a concurrent overwriter.
	for _, r := range t.readSet {
		for {
			p := r.ver.psstamp.atomicLoadPstamp()
			if p >= cstamp {
				break
			}
			if r.ver.psstamp.atomicCASPstamp(p, cstamp) {
				break
			}
		}
		r.ver.clearReaderBit(t.thid)
	}
	for _, w := range t.writeSet {
		w.committedPrev.psstamp.atomicStoreSstamp(committedStamp(t.sstamp))
		w.ver.psstamp.init(t.pstamp, noSuccessor)
		w.ver.cstamp.Store(committedStamp(cstamp))
		w.ver.statusStore(VersionCommitted)
	}

	t.status = TxnCommitted
	t.desc.statusStore(TxnCommitted)
	t.desc.lastcstamp.Store(uint64(cstamp))

	t.engine.gc.Done(t.txid)
	t.engine.stats.Commits.Add(1)
	t.release()
	return nil
}

// Abort discards the transaction's writes and read dependencies
// unconditionally. Callers invoke this directly when application logic
// decides not to commit; Read/Write/Commit invoke the unexported
// doAbort/abortWithCause path internally when the protocol itself
// detects a conflict.
func (t *Txn) Abort() {
	if t.status != TxnInFlight {
		return
	}
	t.doAbort()
}

func (t *Txn) abortWithCause(cause AbortCause) error {
	t.doAbort()
	t.engine.stats.record(cause)
	return &AbortError{Cause: cause}
}

func (t *Txn) doAbort() {
	for _, w := range t.writeSet {
		w.committedPrev.psstamp.atomicStoreSstamp(noSuccessor)
		w.ver.statusStore(VersionAborted)
	}
	for _, r := range t.readSet {
		r.ver.clearReaderBit(t.thid)
	}

	t.status = TxnAborted
	t.desc.statusStore(TxnAborted)
	t.engine.gc.Done(t.txid)
	t.release()
}

func (t *Txn) release() {
	pools.putReadSet(t.readSet)
	pools.putWriteSet(t.writeSet)
	t.readSet = nil
	t.writeSet = nil
}
