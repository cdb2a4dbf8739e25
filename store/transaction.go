package store

import (
	"sync"

	"go.uber.org/zap"
)

// LockKey identifies a record-level lock: the (page, slot) pair the
// active transaction has written.
type LockKey struct {
	Page uint32
	Slot int
}

// Transaction is the single in-flight transaction's state: its id, a
// logical end-of-file watermark that tracks transactional inserts
// without touching the data file, a before-image cache keyed by page
// index (the UNDO cache), and the set of record locks it holds. Every
// log record it produces (BEGIN, INSERT/UPDATE, COMMIT/ROLLBACK) is
// appended to the journal as it happens rather than buffered here -
// see Store.writeSlot - so an in-flight transaction's work is already
// durable by the time a crash can discard this struct.
type Transaction struct {
	ID            uint64
	LogicalLength int64
	Before        map[uint32]Page
	Locks         map[LockKey]struct{}
}

// touch implements the first-touch snapshot protocol of §4.3: lock
// the record if not already locked, and on the first such lock for
// its page, snapshot the page's current bytes into the before-image
// cache. currentData is the frame's bytes prior to any mutation this
// call might perform.
func (tx *Transaction) touch(page uint32, slot int, currentData Page) {
	key := LockKey{Page: page, Slot: slot}
	if _, locked := tx.Locks[key]; locked {
		return
	}
	tx.Locks[key] = struct{}{}
	if _, ok := tx.Before[page]; !ok {
		tx.Before[page] = currentData
	}
}

// locked reports whether (page, slot) has been written by this transaction.
func (tx *Transaction) locked(page uint32, slot int) bool {
	_, ok := tx.Locks[LockKey{Page: page, Slot: slot}]
	return ok
}

// TransactionManager tracks the single active transaction at a time,
// per the spec's no-concurrent-transactions design.
type TransactionManager struct {
	mu       sync.Mutex
	nextTxID uint64
	active   *Transaction
	logger   *zap.Logger
}

func NewTransactionManager(logger *zap.Logger) *TransactionManager {
	return &TransactionManager{nextTxID: 1, logger: logger}
}

// Active returns the current transaction, or nil if Idle.
func (tm *TransactionManager) Active() *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.active
}

// Begin allocates a new monotonically increasing transaction id,
// seeds its logical length from currentLength, and transitions to
// Active. The caller is responsible for appending the BEGIN record to
// the journal - the manager only tracks in-memory state.
func (tm *TransactionManager) Begin(currentLength int64) *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tx := &Transaction{
		ID:            tm.nextTxID,
		LogicalLength: currentLength,
		Before:        make(map[uint32]Page),
		Locks:         make(map[LockKey]struct{}),
	}
	tm.nextTxID++
	tm.active = tx

	tm.logger.Sugar().Debugw("transaction begin", "txn", tx.ID)
	return tx
}

// EndCommit transitions to Idle and returns the (now detached)
// transaction so its caller can append COMMIT to the journal and
// sweep the buffer pool.
func (tm *TransactionManager) EndCommit() *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tx := tm.active
	tm.active = nil

	tm.logger.Sugar().Debugw("transaction commit", "txn", tx.ID)
	return tx
}

// EndRollback transitions to Idle and returns the (now detached)
// transaction so its caller can restore before-images and append
// ROLLBACK to the journal.
func (tm *TransactionManager) EndRollback() *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tx := tm.active
	tm.active = nil

	tm.logger.Sugar().Debugw("transaction rollback", "txn", tx.ID)
	return tx
}

// Discard clears the active transaction, if any, without logging
// anything - used by Store.Crash to simulate the loss of in-memory
// state on a power failure.
func (tm *TransactionManager) Discard() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.active = nil
}
