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

import "sync"

// setPool recycles the readSet/writeSet slices a transaction allocates on
// every tbegin/commit. This is the teacher's pkg/bufferpool idiom (a
// sync.Pool wrapped in Get/Put, reset on return) repointed from
// *bytes.Buffer (SSTable encoding scratch space, which this engine has no
// use for — there is no on-disk encoding here) at the slices this engine
// actually allocates on the hot path.
var pools = newSetPool()

type setPool struct {
	readPool  sync.Pool
	writePool sync.Pool
}

func newSetPool() *setPool {
	return &setPool{
		readPool: sync.Pool{
			New: func() any { return make([]readEntry, 0, 16) },
		},
		writePool: sync.Pool{
			New: func() any { return make([]writeEntry, 0, 16) },
		},
	}
}

func (p *setPool) getReadSet() []readEntry {
	return p.readPool.Get().([]readEntry)
}

func (p *setPool) putReadSet(s []readEntry) {
	p.readPool.Put(s[:0])
}

func (p *setPool) getWriteSet() []writeEntry {
	return p.writePool.Get().([]writeEntry)
}

func (p *setPool) putWriteSet(s []writeEntry) {
	p.writePool.Put(s[:0])
}
