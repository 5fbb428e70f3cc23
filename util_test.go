// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package inflate

import (
	"sync/atomic"

	"github.com/cosnicolaou/inflate/internal/assemble"
)

// GetNumDecompressionGoRoutines reports how many worker/assembly goroutines
// are currently running across all Decompressors in this process, so tests
// can confirm they are not leaked.
func GetNumDecompressionGoRoutines() int64 {
	return atomic.LoadInt64(&assemble.NumWorkerGoroutines)
}
