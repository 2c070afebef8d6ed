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

import (
	"time"

	"github.com/ssnstore/ssn/pkg/watermark"
)

// gcState tracks in-flight transaction ids on a watermark.WaterMark (the
// teacher's low-watermark tracker, unchanged — see pkg/watermark) and
// periodically trims committed-version chains below the resulting safe
// point. This replaces the reference implementation's manual
// epoch-indexed free lists (oracle.go's cleanUpCommittedTxns /
// discardAtOrBelow) with the teacher's existing heap-based WaterMark,
// repointed from memtable-flush sequence numbers at transaction ids.
//
// Versions and txnDescriptors themselves are never freed explicitly:
// once a chain link is cut, Go's garbage collector reclaims the
// unreachable value (§9 design note on the arena). gc.go's only job is
// to cut those links so chains do not grow without bound.
type gcState struct {
	engine *Engine
	wm     *watermark.WaterMark
}

func newGCState(e *Engine) *gcState {
	return &gcState{
		engine: e,
		wm:     watermark.New(),
	}
}

// Begin records that txid is now in flight; call at tbegin before the
// transaction can observe any version.
func (g *gcState) Begin(txid uint64) {
	g.wm.Begin(txid)
}

// Done records that txid has committed or aborted and can no longer hold
// back the safe point.
func (g *gcState) Done(txid uint64) {
	g.wm.Done(txid)
}

// run sweeps the table every Config.GCIntervalUS microseconds until
// closeC is closed, then closes closed. Grounded on db.go's run() select
// loop shape (flushC/closeC/closed channels driving a background
// goroutine for the lifetime of the engine).
func (g *gcState) run(closeC <-chan struct{}, closed chan<- struct{}) {
	interval := time.Duration(g.engine.config.GCIntervalUS) * time.Microsecond
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-closeC:
			g.wm.Stop()
			close(closed)
			return
		case <-ticker.C:
			g.sweep()
		}
	}
}

// sweep trims each record's committed-version chain so that at most one
// committed version at or below the current safe point survives; older
// links are cut and left for the Go garbage collector. A version above the
// safe point is never touched, since some in-flight transaction
// may still need to walk back to it.
func (g *gcState) sweep() {
	safe := g.wm.DoneUntil()
	if safe == 0 {
		return
	}

	for i := range g.engine.table {
		latest := g.engine.table[i].latest.Load()
		if latest == nil {
			continue
		}

		ver := latest
		for ver.statusLoad() != VersionCommitted {
			ver = ver.committedPrev
			if ver == nil {
				break
			}
		}
		if ver == nil {
			continue
		}

		for ver.committedPrev != nil {
			if decodeStamp(ver.cstampTagged()) > uint32(safe) {
				ver = ver.committedPrev
				continue
			}
			// ver is the newest committed version at or below the safe
			// point; nothing before it can be visible to any current or
			// future reader, so cut it loose.
			ver.committedPrev = nil
			ver.prev = nil
			break
		}
	}
}
