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
	"github.com/stretchr/testify/require"
)

func TestOpenValidatesConfig(t *testing.T) {
	_, err := Open("", Config{ThreadNum: 64, ReadersBitmapWidth: 8})
	assert.Error(t, err)
}

func TestOpenSeedsSentinels(t *testing.T) {
	e := newTestEngine(t)

	v, ok := e.Peek(0)
	require.True(t, ok)
	assert.Equal(t, make([]byte, 4), v)
}

func TestPeekReflectsLatestCommit(t *testing.T) {
	e := newTestEngine(t)
	seed(e, 0, "AAAA")

	txn := e.NewTxn(1)
	txn.Begin()
	require.NoError(t, txn.Write(0, []byte("BBBB")))
	require.NoError(t, txn.Commit())

	v, ok := e.Peek(0)
	require.True(t, ok)
	assert.Equal(t, []byte("BBBB"), v)
}

func TestStatsCountsCommitsAndAborts(t *testing.T) {
	e := newTestEngine(t)

	t1 := e.NewTxn(1)
	t1.Begin()
	require.NoError(t, t1.Write(0, []byte("AAAA")))

	t2 := e.NewTxn(2)
	t2.Begin()
	err := t2.Write(0, []byte("ZZZZ"))
	require.Error(t, err)

	require.NoError(t, t1.Commit())

	snap := e.Stats()
	assert.Equal(t, uint64(1), snap.Commits)
	assert.Equal(t, uint64(1), snap.WWConflictAborts)
}

// newTestEngine opens a small engine matching the reference-scenario
// dimensions (THREAD_NUM=2, TUPLE_NUM=4, VAL_SIZE=4) and registers its
// Close with t.Cleanup.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open("", Config{
		ThreadNum:          2,
		TupleNum:           4,
		ValSize:            4,
		ReadersBitmapWidth: 8,
		GCIntervalUS:       1000,
		ClockPerUS:         1,
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

// seed overwrites a record's sentinel value directly, modelling the
// scenario setup "initial versions V0_k with cstamp=0, value=X" without
// going through a transaction.
func seed(e *Engine, key int, value string) {
	ver := e.table[key].latest.Load()
	copy(ver.value, []byte(value))
}
