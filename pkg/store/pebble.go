// Package store is the type-partitioned persistence layer. Chats, message
// envelopes, parts, run records and step-log rows all live in one Pebble
// keyspace under lexicographically time-ordered keys:
//
//	chat:<chatID>:meta
//	chat:<chatID>:msg:<msgID>
//	chat:<chatID>:part:<type>:<partID>
//	run:<runID>:meta
//	run:<runID>:step:<index>
//
// Message and part identifiers are ULIDs, so an ascending key scan is a
// chronological scan and parts sorted by ID reproduce emission order.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"draftflow/pkg/ids"
	"draftflow/pkg/logger"
	"draftflow/pkg/models"

	"github.com/cockroachdb/pebble"
)

var (
	db     *pebble.DB
	dbPath string
)

// ErrNotFound is returned for missing chats, messages and runs.
var ErrNotFound = pebble.ErrNotFound

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func notOpened() error {
	return fmt.Errorf("pebble not opened; call store.Open first")
}

func chatMetaKey(chatID string) []byte {
	return []byte("chat:" + chatID + ":meta")
}

func msgKey(chatID, msgID string) []byte {
	return []byte("chat:" + chatID + ":msg:" + msgID)
}

func partKey(chatID string, t models.PartType, partID string) []byte {
	return []byte("chat:" + chatID + ":part:" + string(t) + ":" + partID)
}

// --- write batching ---

// Txn stages writes on a Pebble batch: everything lands atomically on
// Commit, or not at all on Discard. The engine's step runner uses one
// Txn per durable step so a step's data rows and its step-log row can
// never diverge across a crash.
type Txn struct {
	b *pebble.Batch
}

// NewTxn starts an empty write batch.
func NewTxn() (*Txn, error) {
	if db == nil {
		return nil, notOpened()
	}
	return &Txn{b: db.NewBatch()}, nil
}

// Commit applies every staged write with a synced commit.
func (t *Txn) Commit() error {
	defer t.b.Close()
	return t.b.Commit(pebble.Sync)
}

// Discard drops the staged writes.
func (t *Txn) Discard() {
	_ = t.b.Close()
}

// SaveChat stages chat metadata on the batch.
func (t *Txn) SaveChat(c models.Chat) error { return saveChat(t.b, c) }

// SaveMessage stages a message envelope on the batch.
func (t *Txn) SaveMessage(m models.Message) error { return saveMessage(t.b, m) }

// InsertParts stages part rows on the batch; identifier assignment works
// exactly as in the package-level InsertParts.
func (t *Txn) InsertParts(chatID, messageID string, parts []models.Part) ([]models.Part, error) {
	return insertParts(t.b, chatID, messageID, parts)
}

// SaveRun stages the run record on the batch.
func (t *Txn) SaveRun(r models.Run) error { return saveRun(t.b, r) }

// SaveStepResult stages a step-log row on the batch.
func (t *Txn) SaveStepResult(runID string, index int, data []byte) error {
	return saveStepResult(t.b, runID, index, data)
}

// ClearMessageRun stages the marker clear. The envelope is read from the
// committed state; markers are only cleared after the steps that wrote
// the message have committed.
func (t *Txn) ClearMessageRun(chatID, msgID string) error {
	m, err := GetMessage(chatID, msgID)
	if err != nil {
		return err
	}
	m.RunID = ""
	if err := saveMessage(t.b, m); err != nil {
		return err
	}
	logger.Info("run_marker_cleared", "chat", chatID, "msg", msgID)
	return nil
}

// --- chats ---

func saveChat(w pebble.Writer, c models.Chat) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal chat: %w", err)
	}
	if err := w.Set(chatMetaKey(c.ID), b, pebble.Sync); err != nil {
		logger.Error("save_chat_failed", "chat", c.ID, "error", err)
		return err
	}
	return nil
}

// SaveChat stores chat metadata.
func SaveChat(c models.Chat) error {
	if db == nil {
		return notOpened()
	}
	return saveChat(db, c)
}

// GetChat returns the stored chat metadata for a given chat ID.
func GetChat(chatID string) (models.Chat, error) {
	var c models.Chat
	if db == nil {
		return c, notOpened()
	}
	v, closer, err := db.Get(chatMetaKey(chatID))
	if err != nil {
		return c, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &c); err != nil {
		return c, fmt.Errorf("invalid chat metadata: %w", err)
	}
	return c, nil
}

// ListChats returns all chats, optionally filtered by owner, ordered by ID.
func ListChats(owner string) ([]models.Chat, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("chat:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Chat
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), []byte(":meta")) {
			continue
		}
		var c models.Chat
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			return nil, fmt.Errorf("invalid chat metadata at %s: %w", iter.Key(), err)
		}
		if owner != "" && c.Owner != owner {
			continue
		}
		out = append(out, c)
	}
	return out, iter.Error()
}

// DeleteChat removes the chat and cascades to all of its messages and
// parts by deleting the whole chat:<id>: key range.
func DeleteChat(chatID string) error {
	if db == nil {
		return notOpened()
	}
	prefix := []byte("chat:" + chatID + ":")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		k := append([]byte(nil), iter.Key()...)
		if err := db.Delete(k, pebble.Sync); err != nil {
			logger.Error("delete_chat_key_failed", "key", string(k), "error", err)
			return err
		}
	}
	logger.Info("chat_deleted", "chat", chatID)
	return iter.Error()
}

// --- message envelopes ---

func saveMessage(w pebble.Writer, m models.Message) error {
	if m.ID == "" || m.Chat == "" {
		return fmt.Errorf("message requires id and chat")
	}
	env := m
	env.Parts = nil
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := w.Set(msgKey(m.Chat, m.ID), b, pebble.Sync); err != nil {
		logger.Error("save_message_failed", "chat", m.Chat, "msg", m.ID, "error", err)
		return err
	}
	return nil
}

// SaveMessage stores the message envelope. Parts are never stored on the
// envelope; InsertParts owns content rows.
func SaveMessage(m models.Message) error {
	if db == nil {
		return notOpened()
	}
	return saveMessage(db, m)
}

// GetMessage returns one message envelope (no parts).
func GetMessage(chatID, msgID string) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, notOpened()
	}
	v, closer, err := db.Get(msgKey(chatID, msgID))
	if err != nil {
		return m, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &m); err != nil {
		return m, fmt.Errorf("invalid message envelope: %w", err)
	}
	return m, nil
}

// SetMessageRun sets the resumability marker on a message envelope.
func SetMessageRun(chatID, msgID, runID string) error {
	m, err := GetMessage(chatID, msgID)
	if err != nil {
		return err
	}
	m.RunID = runID
	return SaveMessage(m)
}

// ClearMessageRun clears the resumability marker. Callers must only do
// this after every part of the message is durably persisted.
func ClearMessageRun(chatID, msgID string) error {
	m, err := GetMessage(chatID, msgID)
	if err != nil {
		return err
	}
	m.RunID = ""
	if err := SaveMessage(m); err != nil {
		return err
	}
	logger.Info("run_marker_cleared", "chat", chatID, "msg", msgID)
	return nil
}

// listEnvelopes returns all message envelopes for a chat in ID order.
func listEnvelopes(chatID string) ([]models.Message, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("chat:" + chatID + ":msg:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("invalid message envelope at %s: %w", iter.Key(), err)
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

// --- parts ---

func insertParts(w pebble.Writer, chatID, messageID string, parts []models.Part) ([]models.Part, error) {
	written := make([]models.Part, 0, len(parts))
	for _, p := range parts {
		if !models.KnownPartType(p.Type) {
			// schema mismatch between producer and consumer; do not coerce
			return written, fmt.Errorf("unknown part type %q for message %s", p.Type, messageID)
		}
		if p.Empty() {
			continue
		}
		p.Message = messageID
		if p.ID == "" {
			p.ID = ids.New()
		}
		b, err := json.Marshal(p)
		if err != nil {
			return written, fmt.Errorf("failed to marshal part: %w", err)
		}
		if err := w.Set(partKey(chatID, p.Type, p.ID), b, pebble.Sync); err != nil {
			logger.Error("insert_part_failed", "chat", chatID, "msg", messageID, "type", p.Type, "error", err)
			return written, err
		}
		written = append(written, p)
	}
	PartsPersisted.Add(float64(len(written)))
	return written, nil
}

// InsertParts appends one row per part to its type partition. Parts with
// no identifier get one assigned here, at the moment they are finalized,
// which is what makes sort-by-ID equal emission order. Structurally empty
// parts are skipped. Returns the parts actually written.
func InsertParts(chatID, messageID string, parts []models.Part) ([]models.Part, error) {
	if db == nil {
		return nil, notOpened()
	}
	return insertParts(db, chatID, messageID, parts)
}

// ListParts returns every part of one type partition for a chat, in ID order.
func ListParts(chatID string, t models.PartType) ([]models.Part, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("chat:" + chatID + ":part:" + string(t) + ":")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Part
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var p models.Part
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			return nil, fmt.Errorf("invalid part row at %s: %w", iter.Key(), err)
		}
		out = append(out, p)
	}
	return out, iter.Error()
}

// CountParts returns the number of persisted parts for one message.
func CountParts(chatID, messageID string) (int, error) {
	n := 0
	for _, t := range models.PartTypes {
		parts, err := ListParts(chatID, t)
		if err != nil {
			return 0, err
		}
		for _, p := range parts {
			if p.Message == messageID {
				n++
			}
		}
	}
	return n, nil
}

// --- runs ---

func saveRun(w pebble.Writer, r models.Run) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	key := []byte("run:" + r.ID + ":meta")
	if err := w.Set(key, b, pebble.Sync); err != nil {
		logger.Error("save_run_failed", "run", r.ID, "error", err)
		return err
	}
	return nil
}

// SaveRun stores the run record.
func SaveRun(r models.Run) error {
	if db == nil {
		return notOpened()
	}
	return saveRun(db, r)
}

// GetRun returns the run record for a given run ID.
func GetRun(runID string) (models.Run, error) {
	var r models.Run
	if db == nil {
		return r, notOpened()
	}
	v, closer, err := db.Get([]byte("run:" + runID + ":meta"))
	if err != nil {
		return r, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &r); err != nil {
		return r, fmt.Errorf("invalid run record: %w", err)
	}
	return r, nil
}

// --- step log ---

func saveStepResult(w pebble.Writer, runID string, index int, data []byte) error {
	key := []byte(fmt.Sprintf("run:%s:step:%06d", runID, index))
	if err := w.Set(key, data, pebble.Sync); err != nil {
		logger.Error("save_step_result_failed", "run", runID, "step", index, "error", err)
		return err
	}
	return nil
}

// SaveStepResult records the result of a durable step, keyed by run and
// step index. Re-driving the same run replays this row instead of
// re-executing the step.
func SaveStepResult(runID string, index int, data []byte) error {
	if db == nil {
		return notOpened()
	}
	return saveStepResult(db, runID, index, data)
}

// GetStepResult returns the logged result for a step, if present.
func GetStepResult(runID string, index int) ([]byte, bool, error) {
	if db == nil {
		return nil, false, notOpened()
	}
	key := []byte(fmt.Sprintf("run:%s:step:%06d", runID, index))
	v, closer, err := db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer closer.Close()
	out := append([]byte(nil), v...)
	return out, true, nil
}
