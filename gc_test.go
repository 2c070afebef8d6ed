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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGCSweepTrimsCommittedChainBelowWatermark(t *testing.T) {
	e := newTestEngine(t)
	seed(e, 0, "AAAA")

	for _, val := range []string{"BBBB", "CCCC", "DDDD"} {
		txn := e.NewTxn(1)
		txn.Begin()
		require.NoError(t, txn.Write(0, []byte(val)))
		require.NoError(t, txn.Commit())
	}

	require.Eventually(t, func() bool {
		return e.gc.wm.DoneUntil() >= 3
	}, time.Second, time.Millisecond)

	newest := e.table[0].latest.Load()
	require.NotNil(t, newest.committedPrev)

	e.gc.sweep()

	assert.Nil(t, newest.committedPrev, "the chain behind the safe point should be cut loose")
	assert.Equal(t, []byte("DDDD"), newest.value)
}

func TestGCSweepLeavesLiveChainUntouched(t *testing.T) {
	e := newTestEngine(t)
	seed(e, 0, "AAAA")

	reader := e.NewTxn(1)
	reader.Begin()
	_, err := reader.Read(0)
	require.NoError(t, err)

	writer := e.NewTxn(2)
	writer.Begin()
	require.NoError(t, writer.Write(0, []byte("BBBB")))
	require.NoError(t, writer.Commit())

	// reader is still in flight: its txid holds the watermark back, so
	// the sentinel reader still depends on must survive a sweep.
	e.gc.sweep()

	newest := e.table[0].latest.Load()
	require.NotNil(t, newest.committedPrev)
	assert.Equal(t, []byte("AAAA"), newest.committedPrev.value)

	require.NoError(t, reader.Commit())
}
