package store

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Store is the single-file record store: the public API described by
// the spec, wiring together the Pager, BufferPool, TransactionManager
// and Journal. All public operations are mutually exclusive in the
// sense that only one transaction may be active at a time - there is
// no concurrent-transaction support by design.
type Store struct {
	pager   *Pager
	pool    *BufferPool
	journal *Journal
	txm     *TransactionManager
	logger  *zap.Logger

	// logicalLength is the store's effective end-of-file watermark.
	// It advances on every non-transactional write and on every
	// commit (to the committing transaction's LogicalLength), even
	// though a commit by itself never touches the data file - record
	// counts and append positions must reflect committed work whether
	// or not a checkpoint has flushed it to disk yet. Checkpoint and
	// Recover reconcile it back to the physical file length once data
	// pages are actually persisted.
	logicalLength int64
}

// Open opens (creating if absent) the data file at path and its
// companion journal at path+".log". It does not run recovery -
// callers that need crash recovery call Recover explicitly.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pager, err := NewPager(path, logger)
	if err != nil {
		return nil, err
	}
	journal, err := NewJournal(path+".log", logger)
	if err != nil {
		_ = pager.Close()
		return nil, err
	}

	logger.Sugar().Debugw("opened store", "path", path)

	length, err := pager.Length()
	if err != nil {
		_ = pager.Close()
		_ = journal.Close()
		return nil, err
	}

	return &Store{
		pager:         pager,
		pool:          NewBufferPool(pager, logger),
		journal:       journal,
		txm:           NewTransactionManager(logger),
		logger:        logger,
		logicalLength: length,
	}, nil
}

// Close closes the data file and the journal.
func (s *Store) Close(ctx context.Context) error {
	if err := s.pager.Close(); err != nil {
		return err
	}
	return s.journal.Close()
}

// appendPosition computes the (page, slot) at which a new record
// appended after length bytes lands, advancing to the next page
// boundary if the record would straddle a page, and returns the
// length the store would have after the write.
func appendPosition(length int64) (page uint32, slot int, newLength int64) {
	off := length % PageSize
	if off+RecordSize > PageSize {
		length += PageSize - off
		off = 0
	}
	page = uint32(length / PageSize)
	slot = int(off / RecordSize)
	newLength = length + RecordSize
	return page, slot, newLength
}

func pageCountFor(length int64) uint32 {
	return uint32((length + PageSize - 1) / PageSize)
}

// effectiveLength returns the store's logical end-of-file: a
// transaction's own watermark when one is active, otherwise the
// store's watermark. It deliberately does not consult the physical
// file length directly - Commit advances the watermark without
// touching the data file (§9), so the two only agree once a
// Checkpoint or Recover has run.
func (s *Store) effectiveLength(tx *Transaction) int64 {
	if tx != nil {
		return tx.LogicalLength
	}
	return s.logicalLength
}

func (s *Store) updateLogicalLength(tx *Transaction, page uint32, slot int) {
	end := int64(page)*PageSize + int64(slot+1)*RecordSize
	if end > tx.LogicalLength {
		tx.LogicalLength = end
	}
}

// writeSlot is the shared first-touch/log/mutate sequence used by
// InsertRecord, InsertRecordSync and UpdateRecord: it fixes the
// frame, runs the snapshot protocol when a transaction is active,
// appends the record's INSERT/UPDATE entry to the journal
// write-through (so it is durable before the call returns, not just
// buffered until the eventual commit), overwrites the slot, and marks
// the frame dirty (and transactional, inside a transaction) before
// unfixing.
func (s *Store) writeSlot(page uint32, slot int, value string, kind LogKind) error {
	frame, err := s.pool.Fix(page)
	if err != nil {
		return err
	}
	defer s.pool.Unfix(page)

	before := frame.slotBytes(slot)
	after := EncodeRecord(value)

	tx := s.txm.Active()
	if tx != nil {
		tx.touch(page, slot, frame.data)
		if err := s.journal.AppendBatch([]LogRecord{{
			Kind: kind, Txn: tx.ID, Page: page, Slot: slot, Before: before, After: after,
		}}); err != nil {
			return err
		}
	}

	frame.setSlotBytes(slot, after)
	s.pool.Use(page)
	if tx != nil {
		frame.transactional = true
	}
	return nil
}

// InsertRecord appends value at the current logical end of the
// store. Outside a transaction it writes through to disk
// immediately; inside one it writes only to the buffer pool (and the
// INSERT record to the journal). Commit does not flush the page
// either: it reaches the data file at the next Checkpoint or Recover.
func (s *Store) InsertRecord(ctx context.Context, value string) error {
	tx := s.txm.Active()

	length := s.effectiveLength(tx)
	page, slot, newLength := appendPosition(length)

	if err := s.writeSlot(page, slot, value, LogInsert); err != nil {
		return err
	}

	if tx != nil {
		s.updateLogicalLength(tx, page, slot)
		return nil
	}
	if err := s.pool.Force(page); err != nil {
		return err
	}
	if err := s.pager.SetLength(newLength); err != nil {
		return err
	}
	s.logicalLength = newLength
	return nil
}

// InsertRecordSync scans from page 0 for the first empty slot
// (all-zero RecordSize window) and places value there, advancing to
// a fresh page when every existing page is full. It forces the page
// after placement when outside a transaction, and otherwise
// participates in locking/UNDO the same way InsertRecord does.
func (s *Store) InsertRecordSync(ctx context.Context, value string) error {
	tx := s.txm.Active()

	length := s.effectiveLength(tx)
	maxPage := pageCountFor(length)

	var (
		targetPage uint32
		targetSlot int
		found      bool
	)
	for p := uint32(0); p < maxPage; p++ {
		frame, err := s.pool.Fix(p)
		if err != nil {
			return err
		}
		slot := frame.firstEmptySlot()
		s.pool.Unfix(p)
		if slot >= 0 {
			targetPage, targetSlot, found = p, slot, true
			break
		}
	}
	if !found {
		targetPage, targetSlot = maxPage, 0
	}

	if err := s.writeSlot(targetPage, targetSlot, value, LogInsert); err != nil {
		return err
	}

	if tx != nil {
		s.updateLogicalLength(tx, targetPage, targetSlot)
		return nil
	}

	if err := s.pool.Force(targetPage); err != nil {
		return err
	}
	// Guard against the source behaviour's bug (§9, Open Question):
	// only truncate the file when the write actually extends it, so a
	// placement earlier in an already-longer file can never discard
	// later data on the same page.
	newEnd := int64(targetPage)*PageSize + int64(targetSlot+1)*RecordSize
	if newEnd > s.logicalLength {
		if err := s.pager.SetLength(newEnd); err != nil {
			return err
		}
		s.logicalLength = newEnd
	}
	return nil
}

// UpdateRecord overwrites the slot at id with value. It requires an
// active transaction - UPDATE is only meaningful transactionally.
func (s *Store) UpdateRecord(ctx context.Context, id uint64, value string) error {
	tx := s.txm.Active()
	if tx == nil {
		return fmt.Errorf("update record %d: %w", id, ErrNoActiveTransaction)
	}

	page, slot, _ := locate(id)
	if err := s.writeSlot(page, slot, value, LogUpdate); err != nil {
		return err
	}
	s.updateLogicalLength(tx, page, slot)
	return nil
}

// ReadRecord returns the stored string at id with trailing zero bytes
// stripped. Inside an active transaction, a record the transaction
// itself has written still reads as its pre-transaction value (the
// repeatable-read contract of §4.3): the id's (page, slot) is looked
// up in the before-image cache rather than the live frame.
func (s *Store) ReadRecord(ctx context.Context, id uint64) (string, error) {
	page, slot, offset := locate(id)

	tx := s.txm.Active()
	length := s.effectiveLength(tx)
	if offset >= length {
		return "", fmt.Errorf("read record %d: %w", id, ErrOutOfBounds)
	}

	var (
		raw        [RecordSize]byte
		fromBefore bool
	)
	if tx != nil && tx.locked(page, slot) {
		if img, ok := tx.Before[page]; ok {
			raw = slotBytesFromPage(img, slot)
			fromBefore = true
		}
	}
	if !fromBefore {
		frame, err := s.pool.Fix(page)
		if err != nil {
			return "", err
		}
		raw = frame.slotBytes(slot)
		s.pool.Unfix(page)
	}

	// Fallback: an all-zero window for a slot that should hold
	// persisted data means the in-memory view is stale relative to
	// disk - reread the slot directly.
	if isAllZero(raw[:]) {
		diskLength, err := s.pager.Length()
		if err == nil && offset < diskLength {
			diskPage, err := s.pager.ReadPage(page)
			if err == nil {
				raw = slotBytesFromPage(diskPage, slot)
			}
		}
	}

	return DecodeRecord(raw), nil
}

// GetPage returns the records stored in page p, truncated to the
// total record count.
func (s *Store) GetPage(ctx context.Context, p uint32) ([]string, error) {
	tx := s.txm.Active()
	length := s.effectiveLength(tx)
	total := recordCountFor(length)

	pageStart := uint64(p) * RecordsPerPage
	if pageStart >= total {
		return []string{}, nil
	}
	limit := total - pageStart
	if limit > RecordsPerPage {
		limit = RecordsPerPage
	}

	frame, err := s.pool.Fix(p)
	if err != nil {
		return nil, err
	}
	defer s.pool.Unfix(p)

	records := make([]string, 0, limit)
	for slot := 0; uint64(slot) < limit; slot++ {
		records = append(records, DecodeRecord(frame.slotBytes(slot)))
	}
	return records, nil
}

func recordCountFor(length int64) uint64 {
	return uint64(length/PageSize)*RecordsPerPage + uint64((length%PageSize)/RecordSize)
}

// RecordCount returns (length/PageSize)*RecordsPerPage + (length mod PageSize)/RecordSize.
func (s *Store) RecordCount(ctx context.Context) (uint64, error) {
	return recordCountFor(s.effectiveLength(s.txm.Active())), nil
}

// PageCount returns ceil(length / PageSize).
func (s *Store) PageCount(ctx context.Context) (uint64, error) {
	return uint64(pageCountFor(s.effectiveLength(s.txm.Active()))), nil
}

// Begin starts a new transaction. If one is already active, it is
// committed first (an implicit commit), matching §4.3. The BEGIN
// record is appended to the journal immediately, before any mutation
// the new transaction goes on to make.
func (s *Store) Begin(ctx context.Context) error {
	if s.txm.Active() != nil {
		if err := s.Commit(ctx); err != nil {
			return err
		}
	}
	tx := s.txm.Begin(s.logicalLength)
	return s.journal.AppendBatch([]LogRecord{{Kind: LogBegin, Txn: tx.ID}})
}

// Commit appends COMMIT to the journal (log only, not data pages) and
// clears the transactional flag on every resident frame. Dirty pages
// remain in the buffer pool for a later Checkpoint or Recover to
// persist, but the store's logical length watermark advances
// immediately so RecordCount/PageCount/append positions reflect
// committed work even before that flush happens. Every INSERT/UPDATE
// the transaction made was already written through to the journal as
// it happened (see writeSlot), so COMMIT is the only record Commit
// itself needs to append.
func (s *Store) Commit(ctx context.Context) error {
	tx := s.txm.Active()
	if tx == nil {
		return nil
	}

	ended := s.txm.EndCommit()
	if err := s.journal.AppendBatch([]LogRecord{{Kind: LogCommit, Txn: ended.ID}}); err != nil {
		return err
	}
	s.pool.ForEach(func(_ uint32, f *Frame) {
		f.transactional = false
	})
	s.logicalLength = ended.LogicalLength
	return nil
}

// Rollback restores every before-image into its frame, clearing dirty
// and transactional flags, then appends ROLLBACK to the journal. The
// transaction's INSERT/UPDATE records are already on disk from
// writeSlot. Recover does not read ROLLBACK records: a rolled-back
// transaction has no COMMIT, so its records are never redone, and
// UNDO reapplies their before-images like any other uncommitted
// transaction's.
func (s *Store) Rollback(ctx context.Context) error {
	tx := s.txm.Active()
	if tx == nil {
		return nil
	}

	pages := make([]uint32, 0, len(tx.Before))
	for p := range tx.Before {
		pages = append(pages, p)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })

	for _, p := range pages {
		frame, err := s.pool.Fix(p)
		if err != nil {
			return err
		}
		image := tx.Before[p]
		frame.data = image
		frame.occupied = occupancyBitmap(image)
		frame.dirty = false
		frame.transactional = false
		s.pool.Unfix(p)
	}

	ended := s.txm.EndRollback()
	return s.journal.AppendBatch([]LogRecord{{Kind: LogRollback, Txn: ended.ID}})
}

// Checkpoint flushes every dirty frame through to the data file,
// trims the file to just past the last occupied slot, and appends a
// CHECKPOINT marker. Because BEGIN/INSERT/UPDATE/COMMIT/ROLLBACK are
// all written through to the journal as they happen (see writeSlot,
// Begin, Commit, Rollback), there is nothing buffered in memory left
// to flush here - an active transaction's prior records are already
// on disk, ahead of the CHECKPOINT marker this appends.
func (s *Store) Checkpoint(ctx context.Context) error {
	var forceErr error
	s.pool.ForEach(func(p uint32, f *Frame) {
		if forceErr != nil || !f.dirty {
			return
		}
		forceErr = s.pool.Force(p)
	})
	if forceErr != nil {
		return forceErr
	}

	trimmedLength, err := s.trimToLastOccupiedSlot()
	if err != nil {
		return err
	}
	s.logicalLength = trimmedLength

	var txnID uint64
	if tx := s.txm.Active(); tx != nil {
		txnID = tx.ID
	}
	return s.journal.AppendBatch([]LogRecord{{Kind: LogCheckpoint, Txn: txnID}})
}

// trimToLastOccupiedSlot scans backward from the last allocated page
// for the last non-empty slot and shrinks the data file to end just
// past it, if that is smaller than the current length. It returns the
// file's length after trimming.
func (s *Store) trimToLastOccupiedSlot() (int64, error) {
	length, err := s.pager.Length()
	if err != nil {
		return 0, err
	}
	if length == 0 {
		return 0, nil
	}

	totalPages := pageCountFor(length)
	for p := int64(totalPages) - 1; p >= 0; p-- {
		pageIdx := uint32(p)
		frame, err := s.pool.Fix(pageIdx)
		if err != nil {
			return 0, err
		}
		data := frame.data
		s.pool.Unfix(pageIdx)

		for slot := RecordsPerPage - 1; slot >= 0; slot-- {
			if !isEmptySlot(data, slot) {
				newLength := int64(pageIdx)*PageSize + int64(slot+1)*RecordSize
				if newLength < length {
					if err := s.pager.SetLength(newLength); err != nil {
						return 0, err
					}
					return newLength, nil
				}
				return length, nil
			}
		}
	}

	// Every page was entirely empty.
	if err := s.pager.SetLength(0); err != nil {
		return 0, err
	}
	return 0, nil
}

// Crash discards all buffer frames and any active transaction state
// without writing anything to the data file or the journal itself,
// simulating the loss of volatile memory. Nothing is lost from the
// journal by this: every record the discarded transaction produced
// was already written through to disk as it happened (see writeSlot,
// Begin), so Recover can still see and undo its work.
func (s *Store) Crash(ctx context.Context) {
	s.pool.Clear()
	s.txm.Discard()
	if length, err := s.pager.Length(); err == nil {
		s.logicalLength = length
	}
	s.logger.Sugar().Warn("simulated crash: buffer pool and transaction state discarded")
}
