package recovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/embernetwork/ember-wallet/internal/config"
	"github.com/embernetwork/ember-wallet/internal/db"
	"github.com/embernetwork/ember-wallet/internal/keys"
	"github.com/embernetwork/ember-wallet/internal/node"
	"github.com/embernetwork/ember-wallet/internal/state"
	"github.com/kelindar/bitmap"
	log "github.com/sirupsen/logrus"
)

// ErrRecoveryInProgress is returned when a second recovery is started while
// one is already running.
var ErrRecoveryInProgress = errors.New("recovery already in progress")

// Progress event codes, delivered to the host callback with two numeric
// arguments whose meaning depends on the code.
const (
	EVENT_CONNECTING_TO_BASE_NODE        uint8 = 0 // (0, 0)
	EVENT_CONNECTED_TO_BASE_NODE         uint8 = 1 // (0, 1)
	EVENT_CONNECTION_TO_BASE_NODE_FAILED uint8 = 2 // (retries, retry limit)
	EVENT_PROGRESS                       uint8 = 3 // (current height, total height)
	EVENT_COMPLETED                      uint8 = 4 // (utxos recovered, value recovered)
	EVENT_SCANNING_ROUND_FAILED          uint8 = 5 // (retries, retry limit)
	EVENT_RECOVERY_FAILED                uint8 = 6 // (0, 0)
)

const (
	SESSION_CONNECTING = "CONNECTING"
	SESSION_CONNECTED  = "CONNECTED"
	SESSION_SCANNING   = "SCANNING"
	SESSION_COMPLETED  = "COMPLETED"
	SESSION_FAILED     = "FAILED"
)

// ProgressCallback receives each recovery event exactly once, in protocol
// order.
type ProgressCallback func(event uint8, first, second uint64)

// Session is a snapshot of the running (or last finished) recovery.
type Session struct {
	BaseNodeKey    string `json:"base_node_key"`
	CurrentBlock   uint64 `json:"current_block"`
	TotalBlocks    uint64 `json:"total_blocks"`
	UtxosRecovered uint64 `json:"utxos_recovered"`
	ValueRecovered uint64 `json:"value_recovered"`
	RetryCount     int    `json:"retry_count"`
	RetryLimit     int    `json:"retry_limit"`
	State          string `json:"state"`
}

// Recoverer reconstructs wallet history by scanning the chain round by round
// through a base node. At most one session runs at a time, completed rounds
// are persisted so an interrupted scan resumes instead of starting over.
type Recoverer struct {
	state  *state.State
	client node.Client
	key    *keys.WalletKey

	mu      sync.Mutex
	active  bool
	session Session
}

func NewRecoverer(st *state.State, client node.Client, key *keys.WalletKey) *Recoverer {
	return &Recoverer{
		state:  st,
		client: client,
		key:    key,
	}
}

// StartRecovery launches a scanning session against the given base node and
// returns once the session is accepted. Progress and the terminal outcome are
// reported through the callback, every session ends with exactly one
// Completed or RecoveryFailed event.
func (r *Recoverer) StartRecovery(ctx context.Context, baseNodeKey string, callback ProgressCallback) (bool, error) {
	if err := keys.ValidateAddress(baseNodeKey); err != nil {
		return false, err
	}
	if callback == nil {
		callback = func(uint8, uint64, uint64) {}
	}

	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return false, ErrRecoveryInProgress
	}
	r.active = true
	r.session = Session{
		BaseNodeKey: baseNodeKey,
		RetryLimit:  config.AppConfig.RecoveryRetryLimit,
		State:       SESSION_CONNECTING,
	}
	r.mu.Unlock()

	log.Infof("Recoverer session started, base node %s", baseNodeKey)
	go r.run(ctx, baseNodeKey, callback)
	return true, nil
}

// GetSession reports the current session snapshot and whether one is active.
func (r *Recoverer) GetSession() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session, r.active
}

func (r *Recoverer) run(ctx context.Context, baseNodeKey string, callback ProgressCallback) {
	defer func() {
		r.mu.Lock()
		r.active = false
		r.mu.Unlock()
	}()

	if !r.connect(ctx, callback) {
		return
	}

	tip, err := r.client.GetTipHeight(ctx)
	if err != nil {
		log.Warnf("Recoverer tip query error: %v", err)
		r.fail(callback)
		return
	}
	total := tip + 1

	start, scanned, utxos, value := r.resumePoint(baseNodeKey)
	r.mu.Lock()
	r.session.State = SESSION_SCANNING
	r.session.CurrentBlock = start
	r.session.TotalBlocks = total
	r.session.UtxosRecovered = utxos
	r.session.ValueRecovered = value
	r.mu.Unlock()

	roundSize := config.AppConfig.RecoveryRoundSize
	scanKey := r.key.PublicKeyHex()
	current := start
	retries := 0

	for current <= tip {
		select {
		case <-ctx.Done():
			log.Warn("Recoverer session aborted, context cancelled")
			r.fail(callback)
			return
		default:
		}

		round := uint32(current / roundSize)
		if scanned.Contains(round) {
			current = (uint64(round) + 1) * roundSize
			r.reportProgress(callback, current, total, tip)
			continue
		}

		outputs, next, err := r.client.ScanOutputs(ctx, current, roundSize, scanKey)
		if err != nil {
			retries++
			r.mu.Lock()
			r.session.RetryCount = retries
			r.mu.Unlock()
			callback(EVENT_SCANNING_ROUND_FAILED, uint64(retries), uint64(config.AppConfig.RecoveryRetryLimit))
			log.Warnf("Recoverer scanning round at height %d failed (%d/%d): %v",
				current, retries, config.AppConfig.RecoveryRetryLimit, err)
			if retries >= config.AppConfig.RecoveryRetryLimit {
				r.fail(callback)
				return
			}
			// reconnect and retry the same round, a second failure counts
			// against the limit either way
			_ = r.client.Connect(ctx)
			continue
		}
		retries = 0

		for _, output := range outputs {
			imported, err := r.importOutput(baseNodeKey, output)
			if err != nil {
				log.Errorf("Recoverer import output %s error: %v", output.Commitment, err)
				r.fail(callback)
				return
			}
			if imported {
				utxos++
				value += output.Value
			}
		}

		scanned.Set(round)
		if next <= current {
			next = current + roundSize
		}
		current = next

		r.mu.Lock()
		r.session.CurrentBlock = current
		r.session.UtxosRecovered = utxos
		r.session.ValueRecovered = value
		r.session.RetryCount = 0
		r.mu.Unlock()

		r.persist(baseNodeKey, current, scanned, utxos, value)
		r.reportProgress(callback, current, total, tip)
	}

	r.mu.Lock()
	r.session.State = SESSION_COMPLETED
	r.session.CurrentBlock = total
	r.mu.Unlock()

	log.Infof("Recoverer session completed, %d outputs, total value %d", utxos, value)
	callback(EVENT_COMPLETED, utxos, value)
}

// connect drives the connection phase. Each failed attempt is reported, a
// successful attempt emits the connecting/connected pair before scanning
// begins.
func (r *Recoverer) connect(ctx context.Context, callback ProgressCallback) bool {
	limit := config.AppConfig.RecoveryRetryLimit
	for attempt := 1; ; attempt++ {
		err := r.client.Connect(ctx)
		if err == nil {
			r.mu.Lock()
			r.session.State = SESSION_CONNECTED
			r.session.RetryCount = 0
			r.mu.Unlock()
			callback(EVENT_CONNECTING_TO_BASE_NODE, 0, 0)
			callback(EVENT_CONNECTED_TO_BASE_NODE, 0, 1)
			return true
		}

		r.mu.Lock()
		r.session.RetryCount = attempt
		r.mu.Unlock()
		callback(EVENT_CONNECTION_TO_BASE_NODE_FAILED, uint64(attempt), uint64(limit))
		log.Warnf("Recoverer base node connection failed (%d/%d): %v", attempt, limit, err)
		if attempt >= limit {
			r.fail(callback)
			return false
		}
	}
}

func (r *Recoverer) fail(callback ProgressCallback) {
	r.mu.Lock()
	r.session.State = SESSION_FAILED
	r.mu.Unlock()
	callback(EVENT_RECOVERY_FAILED, 0, 0)
}

func (r *Recoverer) reportProgress(callback ProgressCallback, current, total, tip uint64) {
	if current > tip {
		// the terminal Completed event covers the final round
		return
	}
	callback(EVENT_PROGRESS, current, total)
}

// resumePoint loads persisted progress for this base node. A different base
// node key restarts the scan from genesis.
func (r *Recoverer) resumePoint(baseNodeKey string) (uint64, bitmap.Bitmap, uint64, uint64) {
	progress, err := r.state.GetRecoveryProgress()
	if err != nil {
		if err != state.ErrNotFound {
			log.Errorf("Recoverer load progress error: %v", err)
		}
		return 0, bitmap.Bitmap{}, 0, 0
	}
	if progress.BaseNodeKey != baseNodeKey {
		log.Infof("Recoverer base node changed, restarting scan from genesis")
		return 0, bitmap.Bitmap{}, 0, 0
	}
	return progress.LastHeight, bitmap.FromBytes(progress.ScannedBitmap), progress.UtxosRecovered, progress.ValueRecovered
}

func (r *Recoverer) persist(baseNodeKey string, lastHeight uint64, scanned bitmap.Bitmap, utxos, value uint64) {
	err := r.state.SaveRecoveryProgress(&db.RecoveryProgress{
		BaseNodeKey:    baseNodeKey,
		LastHeight:     lastHeight,
		ScannedBitmap:  scanned.ToBytes(),
		UtxosRecovered: utxos,
		ValueRecovered: value,
	})
	if err != nil {
		log.Errorf("Recoverer persist progress error: %v", err)
	}
}

// importOutput credits a discovered output and records the synthetic Imported
// transaction for it. Re-discovering a known commitment is a no-op.
func (r *Recoverer) importOutput(baseNodeKey string, output node.ScannedOutput) (bool, error) {
	if _, err := r.state.GetOutputByCommitment(output.Commitment); err == nil {
		return false, nil
	} else if err != state.ErrNotFound {
		return false, err
	}

	txID := r.state.NextTxID()
	utxo := &db.Utxo{
		Commitment:     output.Commitment,
		Value:          output.Value,
		MaturityHeight: output.MaturityHeight,
		Status:         db.UTXO_STATUS_UNSPENT,
		Source:         db.UTXO_SOURCE_RECOVERED,
		ReceivedTxID:   txID,
	}
	if err := r.state.AddOutput(utxo); err != nil {
		return false, err
	}

	tx := &db.Transaction{
		TxID:         txID,
		Collection:   db.COLLECTION_COMPLETED,
		Direction:    db.TX_DIRECTION_INBOUND,
		Counterparty: baseNodeKey,
		Amount:       output.Value,
		Message:      config.AppConfig.RecoveryMessage,
		Timestamp:    time.Now(),
		Status:       db.TX_STATUS_IMPORTED,
	}
	if err := r.state.InsertTransaction(tx); err != nil {
		return false, err
	}
	return true, nil
}
