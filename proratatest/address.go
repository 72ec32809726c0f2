package proratatest

import (
	"fmt"
	"sync/atomic"

	prorata "github.com/prorata-io/prorata"
)

var addressSeq uint64

// NewAddress returns a new, unique address of the proper length. Generated
// addresses are deterministic within a process, which makes test failures
// reproducible.
func NewAddress() prorata.Address {
	n := atomic.AddUint64(&addressSeq, 1)
	return prorata.NewAddress([]byte(fmt.Sprintf("test-identity-%d", n)))
}
