package wallet

// Transaction weight constants in grams. Fee is always fee-per-gram times
// total weight.
const (
	WEIGHT_PER_KERNEL = 17
	WEIGHT_PER_INPUT  = 8
	WEIGHT_PER_OUTPUT = 53
)

// EstimateFee is a pure function of the gram rate and the expected
// transaction shape.
func EstimateFee(feePerGram uint64, numInputs, numOutputs, numKernels int) uint64 {
	weight := uint64(numKernels)*WEIGHT_PER_KERNEL +
		uint64(numInputs)*WEIGHT_PER_INPUT +
		uint64(numOutputs)*WEIGHT_PER_OUTPUT
	return feePerGram * weight
}

// FeePerGramStats summarises recent fee rates observed on completed
// transactions.
type FeePerGramStats struct {
	Min uint64 `json:"min"`
	Avg uint64 `json:"avg"`
	Max uint64 `json:"max"`
}
