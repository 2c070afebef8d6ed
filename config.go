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
	"github.com/pkg/errors"
)

// Config holds the tunables enumerated in the design: worker and record
// counts, the payload width, and the GC cadence. Zero-value fields fall
// back to DefaultConfig the same way the rest of the tunables do.
type Config struct {
	// ThreadNum is the number of worker goroutines. It fixes the TMT
	// array size and must leave bit 0 of the readers bitmap reserved,
	// so ThreadNum <= ReadersBitmapWidth-1.
	ThreadNum int

	// TupleNum is the number of records in the flat table, addressed
	// 0..TupleNum-1.
	TupleNum int

	// ValSize is the fixed payload width in bytes of every version.
	ValSize int

	// ReadersBitmapWidth is the number of bits in a version's readers
	// bitmap. Bit 0 is reserved (see §9 of the design), so worker ids
	// are 1-based and bounded by ReadersBitmapWidth-1.
	ReadersBitmapWidth int

	// GCIntervalUS is the garbage collector scan interval, in
	// microseconds, mirroring the reference implementation's
	// GC_INTER_US.
	GCIntervalUS int

	// ClockPerUS is kept for fidelity with the reference implementation's
	// CLOCK_PER_US TSC calibration constant. Go has no portable rdtsc, so
	// the GC loop uses a time.Ticker set from GCIntervalUS instead; ClockPerUS is
	// unused by the timer and only documents the constant being ported.
	ClockPerUS int
}

var DefaultConfig = Config{
	ThreadNum:          8,
	TupleNum:           1 << 20,
	ValSize:            8,
	ReadersBitmapWidth: 64,
	GCIntervalUS:       1000,
	ClockPerUS:         2100,
}

func (c *Config) validate() error {
	if c.ThreadNum <= 0 {
		c.ThreadNum = DefaultConfig.ThreadNum
	}
	if c.TupleNum <= 0 {
		c.TupleNum = DefaultConfig.TupleNum
	}
	if c.ValSize <= 0 {
		c.ValSize = DefaultConfig.ValSize
	}
	if c.ReadersBitmapWidth <= 0 {
		c.ReadersBitmapWidth = DefaultConfig.ReadersBitmapWidth
	}
	if c.GCIntervalUS <= 0 {
		c.GCIntervalUS = DefaultConfig.GCIntervalUS
	}
	if c.ClockPerUS <= 0 {
		c.ClockPerUS = DefaultConfig.ClockPerUS
	}

	// bit 0 of the readers bitmap is reserved; worker ids are 1-based.
	if c.ThreadNum > c.ReadersBitmapWidth-1 {
		return errors.Errorf("ssn: ThreadNum %d exceeds readers bitmap capacity %d (width %d, bit 0 reserved)",
			c.ThreadNum, c.ReadersBitmapWidth-1, c.ReadersBitmapWidth)
	}
	return nil
}
