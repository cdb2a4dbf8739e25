package store

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// LogKind tags the variant of a LogRecord. Recovery dispatches on it
// the same way the page marshaler dispatches on which node type is
// populated.
type LogKind int

const (
	LogBegin LogKind = iota
	LogInsert
	LogUpdate
	LogCommit
	LogRollback
	LogCheckpoint
)

func (k LogKind) String() string {
	switch k {
	case LogBegin:
		return "BEGIN"
	case LogInsert:
		return "INSERT"
	case LogUpdate:
		return "UPDATE"
	case LogCommit:
		return "COMMIT"
	case LogRollback:
		return "ROLLBACK"
	case LogCheckpoint:
		return "CHECKPOINT"
	default:
		return "UNKNOWN"
	}
}

func parseLogKind(s string) (LogKind, bool) {
	switch s {
	case "BEGIN":
		return LogBegin, true
	case "INSERT":
		return LogInsert, true
	case "UPDATE":
		return LogUpdate, true
	case "COMMIT":
		return LogCommit, true
	case "ROLLBACK":
		return LogRollback, true
	case "CHECKPOINT":
		return LogCheckpoint, true
	default:
		return 0, false
	}
}

// LogRecord is one entry of the write-ahead journal.
type LogRecord struct {
	Kind   LogKind
	Txn    uint64
	Page   uint32
	Slot   int
	Before [RecordSize]byte
	After  [RecordSize]byte
}

func isSlotted(k LogKind) bool {
	return k == LogInsert || k == LogUpdate
}

// Journal is the append-only log file. Records are appended at
// end-of-file and the file is never truncated. Each BEGIN,
// INSERT/UPDATE, COMMIT, ROLLBACK and CHECKPOINT is written through
// as soon as it is produced, fsynced before the call that produced it
// returns - so a transaction's records are durable the moment they
// happen, not only once it commits.
type Journal struct {
	file   *os.File
	logger *zap.Logger
}

// NewJournal opens (creating if absent) the log file in read-write mode.
func NewJournal(path string, logger *zap.Logger) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", path, err)
	}
	return &Journal{file: f, logger: logger}, nil
}

func (j *Journal) Close() error {
	return j.file.Close()
}

// AppendBatch appends every record as one line each, then fsyncs.
func (j *Journal) AppendBatch(records []LogRecord) error {
	if len(records) == 0 {
		return nil
	}

	if _, err := j.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek journal to end: %w: %w", ErrIO, err)
	}

	var sb strings.Builder
	for _, r := range records {
		sb.WriteString(marshalLogRecord(r))
		sb.WriteByte('\n')
	}

	if _, err := j.file.WriteString(sb.String()); err != nil {
		return fmt.Errorf("append journal batch: %w: %w", ErrIO, err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w: %w", ErrIO, err)
	}

	j.logger.Sugar().Debugw("flushed journal batch", "records", len(records))
	return nil
}

func marshalLogRecord(r LogRecord) string {
	page, slot := -1, -1
	before, after := "", ""
	if isSlotted(r.Kind) {
		page, slot = int(r.Page), r.Slot
		before = hex.EncodeToString(r.Before[:])
		after = hex.EncodeToString(r.After[:])
	}
	return fmt.Sprintf("%d|%s|%d|%d|%s|%s", r.Txn, r.Kind, page, slot, before, after)
}

// ReadAll reads the journal from the beginning and parses every line.
// Per the LogParse policy, the first malformed line and everything
// after it are ignored (best-effort recovery); the lines read up to
// that point are still returned.
func (j *Journal) ReadAll() ([]LogRecord, error) {
	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek journal to start: %w: %w", ErrIO, err)
	}

	var records []LogRecord
	scanner := bufio.NewScanner(j.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		rec, err := unmarshalLogRecord(line)
		if err != nil {
			j.logger.Sugar().Warnw("malformed journal line, ignoring rest of log", "line", line, "error", err)
			break
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("scan journal: %w: %w", ErrIO, err)
	}
	return records, nil
}

func unmarshalLogRecord(line string) (LogRecord, error) {
	parts := strings.Split(line, "|")
	if len(parts) != 6 {
		return LogRecord{}, fmt.Errorf("expected 6 fields, got %d", len(parts))
	}

	txn, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return LogRecord{}, fmt.Errorf("parse txn id: %w", err)
	}
	kind, ok := parseLogKind(parts[1])
	if !ok {
		return LogRecord{}, fmt.Errorf("unrecognised log type %q", parts[1])
	}

	rec := LogRecord{Kind: kind, Txn: txn}

	if isSlotted(kind) {
		page, err := strconv.Atoi(parts[2])
		if err != nil {
			return LogRecord{}, fmt.Errorf("parse page: %w", err)
		}
		slot, err := strconv.Atoi(parts[3])
		if err != nil {
			return LogRecord{}, fmt.Errorf("parse slot: %w", err)
		}
		before, err := hex.DecodeString(parts[4])
		if err != nil || len(before) != RecordSize {
			return LogRecord{}, fmt.Errorf("parse before image: %w", err)
		}
		after, err := hex.DecodeString(parts[5])
		if err != nil || len(after) != RecordSize {
			return LogRecord{}, fmt.Errorf("parse after image: %w", err)
		}
		rec.Page = uint32(page)
		rec.Slot = slot
		copy(rec.Before[:], before)
		copy(rec.After[:], after)
	}

	return rec, nil
}
