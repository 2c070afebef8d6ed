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

// TIDFLAG tags the low bit of an sstamp/cstamp half: set means the upper
// bits carry a worker id (an in-flight, uncommitted value), clear means
// they carry a committed stamp shifted left by one. Ported from the
// reference implementation's #define TIDFLAG 1; asserted at compile time
// below per the design note that the shift amount and the tag bit must be
// the identical constant.
const TIDFLAG = 1

// compile-time assert: TIDFLAG must equal 1 (otherwise one of these array
// lengths is negative)
var (
	_ [TIDFLAG - 1]struct{}
	_ [1 - TIDFLAG]struct{}
)

// noSuccessor is the sstamp/cstamp sentinel meaning "nothing has
// overwritten this version yet": UINT32_MAX with the tag bit cleared.
const noSuccessor uint32 = ^uint32(0) &^ TIDFLAG

// Psstamp packs a version's predecessor high-water mark pstamp (η) and
// successor low-water mark sstamp (π) into one 64-bit word so both halves
// can be read with a single atomic load. pstamp occupies the upper 32
// bits, sstamp the lower 32. Grounded on ermia/include/common.hpp's
// Psstamp union and the atomicLoad/atomicStore/atomicCAS call sites in
// ermia/transaction.cc.
type Psstamp struct {
	word atomic.Uint64
}

func packPsstamp(pstamp, sstamp uint32) uint64 {
	return uint64(pstamp)<<32 | uint64(sstamp)
}

func unpackPsstamp(word uint64) (pstamp, sstamp uint32) {
	return uint32(word >> 32), uint32(word)
}

// atomicLoad returns the full packed word.
func (p *Psstamp) atomicLoad() uint64 {
	return p.word.Load()
}

func (p *Psstamp) atomicLoadPstamp() uint32 {
	pstamp, _ := unpackPsstamp(p.word.Load())
	return pstamp
}

func (p *Psstamp) atomicLoadSstamp() uint32 {
	_, sstamp := unpackPsstamp(p.word.Load())
	return sstamp
}

func (p *Psstamp) atomicStorePstamp(v uint32) {
	for {
		old := p.word.Load()
		_, sstamp := unpackPsstamp(old)
		if p.word.CompareAndSwap(old, packPsstamp(v, sstamp)) {
			return
		}
	}
}

func (p *Psstamp) atomicStoreSstamp(v uint32) {
	for {
		old := p.word.Load()
		pstamp, _ := unpackPsstamp(old)
		if p.word.CompareAndSwap(old, packPsstamp(pstamp, v)) {
			return
		}
	}
}

// atomicCASPstamp swaps the pstamp half only if it still equals old,
// leaving sstamp untouched. Used by the parallel-commit path to raise a
// read version's pstamp without clobbering a concurrent overwriter's
// sstamp tag.
func (p *Psstamp) atomicCASPstamp(old, new uint32) bool {
	cur := p.word.Load()
	curPstamp, curSstamp := unpackPsstamp(cur)
	if curPstamp != old {
		return false
	}
	return p.word.CompareAndSwap(cur, packPsstamp(new, curSstamp))
}

func (p *Psstamp) atomicCASSstamp(old, new uint32) bool {
	cur := p.word.Load()
	curPstamp, curSstamp := unpackPsstamp(cur)
	if curSstamp != old {
		return false
	}
	return p.word.CompareAndSwap(cur, packPsstamp(curPstamp, new))
}

func (p *Psstamp) init(pstamp, sstamp uint32) {
	p.word.Store(packPsstamp(pstamp, sstamp))
}

// taggedWorker packs a worker id as an in-flight stamp: bit 0 set, worker
// id in the remaining bits. Shift amount and tag bit are both TIDFLAG,
// per the design note that they must be identical.
func taggedWorker(workerID int) uint32 {
	return uint32(workerID)<<TIDFLAG | TIDFLAG
}

func isTagged(v uint32) bool {
	return v&TIDFLAG != 0
}

func taggedWorkerID(v uint32) int {
	return int(v >> TIDFLAG)
}

// committedStamp packs a finalized stamp (a cstamp or a committed
// sstamp/pstamp) with the tag bit cleared.
func committedStamp(v uint32) uint32 {
	return (v << TIDFLAG) &^ TIDFLAG
}

// decodeStamp reverses committedStamp: extracts the actual stamp value
// from a word whose tag bit is known to be clear.
func decodeStamp(v uint32) uint32 {
	return v >> TIDFLAG
}
