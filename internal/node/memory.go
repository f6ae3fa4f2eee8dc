package node

import (
	"context"
	"sync"
)

// MemoryClient is an in-process base node used for local networks and tests.
// Chain contents are seeded explicitly.
type MemoryClient struct {
	mu sync.Mutex

	tipHeight uint64
	txs       map[string]TxChainStatus
	txos      map[string]TxoChainStatus
	scans     map[uint64][]ScannedOutput // keyed by block height

	connectFailures int
	scanFailures    int
	offline         bool
}

var _ Client = (*MemoryClient)(nil)

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		txs:   make(map[string]TxChainStatus),
		txos:  make(map[string]TxoChainStatus),
		scans: make(map[uint64][]ScannedOutput),
	}
}

func (c *MemoryClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectFailures > 0 {
		c.connectFailures--
		return ErrNetworkUnavailable
	}
	if c.offline {
		return ErrNetworkUnavailable
	}
	return nil
}

func (c *MemoryClient) GetTipHeight(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offline {
		return 0, ErrNetworkUnavailable
	}
	return c.tipHeight, nil
}

func (c *MemoryClient) SubmitTransaction(ctx context.Context, kernelExcess string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offline {
		return ErrNetworkUnavailable
	}
	if _, ok := c.txs[kernelExcess]; !ok {
		c.txs[kernelExcess] = TxChainStatus{KernelExcess: kernelExcess}
	}
	return nil
}

func (c *MemoryClient) QueryTransactions(ctx context.Context, kernelExcesses []string) ([]TxChainStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offline {
		return nil, ErrNetworkUnavailable
	}
	results := make([]TxChainStatus, 0, len(kernelExcesses))
	for _, excess := range kernelExcesses {
		if status, ok := c.txs[excess]; ok {
			results = append(results, status)
		}
	}
	return results, nil
}

func (c *MemoryClient) QueryTxos(ctx context.Context, commitments []string) ([]TxoChainStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offline {
		return nil, ErrNetworkUnavailable
	}
	results := make([]TxoChainStatus, 0, len(commitments))
	for _, commitment := range commitments {
		if status, ok := c.txos[commitment]; ok {
			results = append(results, status)
		}
	}
	return results, nil
}

func (c *MemoryClient) ScanOutputs(ctx context.Context, startHeight, count uint64, scanKey string) ([]ScannedOutput, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offline {
		return nil, startHeight, ErrNetworkUnavailable
	}
	if c.scanFailures > 0 {
		c.scanFailures--
		return nil, startHeight, ErrNetworkUnavailable
	}
	end := startHeight + count
	if end > c.tipHeight+1 {
		end = c.tipHeight + 1
	}
	var found []ScannedOutput
	for height := startHeight; height < end; height++ {
		found = append(found, c.scans[height]...)
	}
	return found, end, nil
}

// SetTipHeight seeds the simulated chain tip.
func (c *MemoryClient) SetTipHeight(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tipHeight = height
}

// SetTransactionStatus seeds the chain view of a transaction.
func (c *MemoryClient) SetTransactionStatus(status TxChainStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs[status.KernelExcess] = status
}

// SetTxoStatus seeds the chain view of an output.
func (c *MemoryClient) SetTxoStatus(status TxoChainStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txos[status.Commitment] = status
}

// AddScannedOutput seeds an output discovered at the given height.
func (c *MemoryClient) AddScannedOutput(height uint64, output ScannedOutput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scans[height] = append(c.scans[height], output)
}

// FailNextConnects makes the next n Connect calls fail.
func (c *MemoryClient) FailNextConnects(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectFailures = n
}

// FailNextScans makes the next n ScanOutputs calls fail.
func (c *MemoryClient) FailNextScans(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scanFailures = n
}

// SetOffline toggles simulated loss of connectivity.
func (c *MemoryClient) SetOffline(offline bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offline = offline
}
