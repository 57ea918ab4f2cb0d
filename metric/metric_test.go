/*
 * Copyright 2018 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package metric

import (
	"testing"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/require"
)

func TestCountersAreRegisteredUnderTheirNames(t *testing.T) {
	require.Same(t, BlocksMined, metrics.Get("blocks-mined"))
	require.Same(t, PeersConnected, metrics.Get("peers-connected"))
	require.Same(t, ReplayQueueSize, metrics.Get("replay-queue-size"))
}

func TestMarkAndUpdateAdvanceCounters(t *testing.T) {
	before := BlocksMined.Count()
	BlocksMined.Mark(1)
	require.Equal(t, before+1, BlocksMined.Count())

	ReplayQueueSize.Update(3)
	require.EqualValues(t, 3, ReplayQueueSize.Value())
}

func TestLogEveryStopsWhenSignalled(t *testing.T) {
	stop := make(chan struct{})
	LogEvery(time.Hour, stop)
	close(stop)
	// The goroutine's select is free to observe stop before its ticker
	// ever fires; there is nothing further to assert without racing the
	// scheduler, so reaching here without a hang is the test.
}

func TestLogWriterWritesThroughWithoutError(t *testing.T) {
	n, err := logWriter{}.Write([]byte("registry snapshot"))
	require.NoError(t, err)
	require.Equal(t, len("registry snapshot"), n)
}
