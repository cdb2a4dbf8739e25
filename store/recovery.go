package store

import "context"

// Recover reads the journal from the beginning and replays it to
// restore a consistent data file: REDO reapplies the after-images of
// every committed transaction, then UNDO restores the before-images
// of every transaction that began but never committed, both limited
// to records after the last checkpoint. The buffer pool is cleared
// afterwards so subsequent reads pick up the rewritten on-disk state.
func (s *Store) Recover(ctx context.Context) error {
	records, err := s.journal.ReadAll()
	if err != nil {
		return err
	}

	committed := make(map[uint64]bool)
	begun := make(map[uint64]bool)
	lastCheckpoint := -1

	for i, r := range records {
		switch r.Kind {
		case LogBegin:
			begun[r.Txn] = true
		case LogCommit:
			committed[r.Txn] = true
		case LogCheckpoint:
			lastCheckpoint = i
		}
	}

	activeAfterCrash := make(map[uint64]bool, len(begun))
	for txn := range begun {
		if !committed[txn] {
			activeAfterCrash[txn] = true
		}
	}

	start := lastCheckpoint + 1

	baseline, err := s.pager.Length()
	if err != nil {
		return err
	}
	maxEnd := baseline

	// REDO: forward, reapplying committed after-images.
	for i := start; i < len(records); i++ {
		r := records[i]
		if !isSlotted(r.Kind) {
			continue
		}
		if end := slotEnd(r.Page, r.Slot); end > maxEnd {
			maxEnd = end
		}
		if !committed[r.Txn] {
			continue
		}
		if err := s.applyImage(r.Page, r.Slot, r.After); err != nil {
			return err
		}
	}

	// UNDO: reverse, restoring before-images of transactions that
	// never committed before the crash.
	for i := len(records) - 1; i >= start; i-- {
		r := records[i]
		if !isSlotted(r.Kind) || !activeAfterCrash[r.Txn] {
			continue
		}
		if err := s.applyImage(r.Page, r.Slot, r.Before); err != nil {
			return err
		}
	}

	// A slot a crashed transaction reached before it was undone still
	// allocated that position in the file - Checkpoint is the only
	// thing that ever reclaims it, so recovery restores the extent as
	// it stood live, then trims any padding applyImage's whole-page
	// writes left beyond it.
	if err := s.pager.SetLength(maxEnd); err != nil {
		return err
	}
	s.logicalLength = maxEnd

	s.pool.Clear()

	s.logger.Sugar().Infow("recovery complete",
		"records", len(records), "committed", len(committed), "undone", len(activeAfterCrash))
	return nil
}

func slotEnd(page uint32, slot int) int64 {
	return int64(page)*PageSize + int64(slot+1)*RecordSize
}

func (s *Store) applyImage(page uint32, slot int, image [RecordSize]byte) error {
	frame, err := s.pool.Fix(page)
	if err != nil {
		return err
	}
	frame.setSlotBytes(slot, image)
	s.pool.Use(page)
	s.pool.Unfix(page)
	return s.pool.Force(page)
}
