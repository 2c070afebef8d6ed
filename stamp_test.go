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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPsstampPackUnpack(t *testing.T) {
	var p Psstamp
	p.init(7, 11)
	assert.Equal(t, uint32(7), p.atomicLoadPstamp())
	assert.Equal(t, uint32(11), p.atomicLoadSstamp())
}

func TestPsstampStoreIndependentHalves(t *testing.T) {
	var p Psstamp
	p.init(1, 2)
	p.atomicStorePstamp(9)
	assert.Equal(t, uint32(9), p.atomicLoadPstamp())
	assert.Equal(t, uint32(2), p.atomicLoadSstamp())

	p.atomicStoreSstamp(42)
	assert.Equal(t, uint32(9), p.atomicLoadPstamp())
	assert.Equal(t, uint32(42), p.atomicLoadSstamp())
}

func TestPsstampCAS(t *testing.T) {
	var p Psstamp
	p.init(5, 5)
	assert.True(t, p.atomicCASPstamp(5, 6))
	assert.False(t, p.atomicCASPstamp(5, 7))
	assert.Equal(t, uint32(6), p.atomicLoadPstamp())
}

func TestTaggedWorkerRoundTrip(t *testing.T) {
	tagged := taggedWorker(3)
	assert.True(t, isTagged(tagged))
	assert.Equal(t, 3, taggedWorkerID(tagged))
}

func TestCommittedStampRoundTrip(t *testing.T) {
	cs := committedStamp(123)
	assert.False(t, isTagged(cs))
	assert.Equal(t, uint32(123), decodeStamp(cs))
}

func TestNoSuccessorIsUntagged(t *testing.T) {
	assert.False(t, isTagged(noSuccessor))
}
