package usage

import "github.com/kailas-cloud/hybridcoord/internal/usecase/inference"

// LedgerReader provides read-only access to one token ledger.
type LedgerReader interface {
	Usage() inference.Usage
}
