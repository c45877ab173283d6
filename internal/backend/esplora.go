package backend

import (
	"context"
	"time"
)

// EsploraBackend implements UTXOBackend using the Esplora API (blockstream.info).
// Esplora shares its address and transaction endpoints with mempool.space and
// only differs in fee estimation.
type EsploraBackend struct {
	*MempoolBackend
}

// NewEsploraBackend creates a new Esplora backend.
func NewEsploraBackend(baseURL string, timeout time.Duration) *EsploraBackend {
	return &EsploraBackend{
		MempoolBackend: NewMempoolBackend(baseURL, timeout),
	}
}

// Type returns TypeEsplora.
func (e *EsploraBackend) Type() Type {
	return TypeEsplora
}

// GetFeeEstimates maps Esplora confirmation targets (in blocks) to fee levels.
func (e *EsploraBackend) GetFeeEstimates(ctx context.Context) (*FeeEstimate, error) {
	var result map[string]float64
	if err := e.get(ctx, "/fee-estimates", &result); err != nil {
		return nil, err
	}

	return &FeeEstimate{
		FastestFee:  uint64(result["1"]),
		HalfHourFee: uint64(result["3"]),
		HourFee:     uint64(result["6"]),
		EconomyFee:  uint64(result["144"]),
		MinimumFee:  1, // not reported by Esplora
	}, nil
}

var _ UTXOBackend = (*EsploraBackend)(nil)
