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

package ssn

import "sync/atomic"

// VersionStatus is the closed, tagged-variant lifecycle of a Version (§9:
// "no plugin surface ... model as tagged variants").
type VersionStatus uint32

const (
	VersionInFlight VersionStatus = iota
	VersionCommitted
	VersionAborted
)

// Version is one value of one record at one point in logical time.
// Grounded on ermia/transaction.cc's Version class and, for the general
// "immutable payload + mutable status" shape a version has in a Go port,
// on Jekaa-go-mvcc-map/mvcc/version.go's version[K,V] (there it snapshots
// a whole map; here it is one link in one record's chain).
type Version struct {
	// id is a monotonically issued arena id (§9) recording allocation
	// order independent of cstamp (which is not known until commit). The
	// GC sweep keys off cstamp and does not consult it.
	id uint64

	value []byte

	// cstamp is tag-bit encoded exactly like Psstamp's halves: while
	// inFlight it holds taggedWorker(thid); once committed it holds
	// committedStamp(cstamp).
	cstamp atomic.Uint32

	psstamp Psstamp

	status atomic.Uint32

	// prev links to the previous version installed at this record,
	// regardless of status. committedPrev skips aborted versions and
	// always lands on a committed one (or nil at the chain's sentinel
	// base version).
	prev          *Version
	committedPrev *Version

	// readers is a bitmap; bit i set means worker i holds an uncommitted
	// read dependency on this version. Bit 0 is reserved (workers are
	// 1-based), per §9.
	readers atomic.Uint64
}

func (v *Version) statusLoad() VersionStatus {
	return VersionStatus(v.status.Load())
}

func (v *Version) statusStore(s VersionStatus) {
	v.status.Store(uint32(s))
}

func (v *Version) cstampTagged() uint32 {
	return v.cstamp.Load()
}

func (v *Version) setReaderBit(workerID int) {
	v.readers.Or(uint64(1) << uint(workerID))
}

func (v *Version) clearReaderBit(workerID int) {
	v.readers.And(^(uint64(1) << uint(workerID)))
}

func (v *Version) hasReaderBit(workerID int) bool {
	return v.readers.Load()&(uint64(1)<<uint(workerID)) != 0
}

// readerBits snapshots the bitmap for iteration (ssn_parallel_commit's
// "for r in v.prev.readers" loop).
func (v *Version) readerBits() uint64 {
	return v.readers.Load()
}

// recordSlot is the per-record head: a pointer to the newest version of
// any status. It is mutated only by CAS, only by a writer installing a
// new inFlight version (§4.2).
type recordSlot struct {
	latest atomic.Pointer[Version]
}

// versionArena issues monotonically increasing version ids. Go's runtime
// garbage collector reclaims the Version values themselves once no chain
// or pointer references them; the arena id records allocation order
// independently of cstamp, which a version doesn't have until it commits
// (the GC sweep and the tests do not read it). This replaces the reference implementation's
// manual new/delete arena (§9) with the Go-idiomatic equivalent: let the
// GC manage memory, keep only the ordering id explicit.
type versionArena struct {
	nextID atomic.Uint64
}

func (a *versionArena) newInFlight(thid int, valSize int) *Version {
	v := &Version{
		id:    a.nextID.Add(1),
		value: make([]byte, valSize),
	}
	v.cstamp.Store(taggedWorker(thid))
	v.statusStore(VersionInFlight)
	v.psstamp.init(0, noSuccessor)
	return v
}

// newSentinel builds the base committed version every record starts
// with: committed at cstamp 0, no successor yet.
func (a *versionArena) newSentinel(valSize int) *Version {
	v := &Version{
		id:    a.nextID.Add(1),
		value: make([]byte, valSize),
	}
	v.cstamp.Store(committedStamp(0))
	v.statusStore(VersionCommitted)
	v.psstamp.init(0, noSuccessor)
	return v
}
