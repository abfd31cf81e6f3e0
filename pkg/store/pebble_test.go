package store

import (
	"encoding/json"
	"testing"

	"draftflow/pkg/ids"
	"draftflow/pkg/models"
)

func openTestStore(t *testing.T) {
	t.Helper()
	if err := Open(t.TempDir()); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
}

func TestChatCRUD(t *testing.T) {
	openTestStore(t)

	c := models.Chat{ID: ids.New(), Title: "hello", Owner: "u1", CreatedTS: 1, UpdatedTS: 1}
	if err := SaveChat(c); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}
	got, err := GetChat(c.ID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if got.Title != "hello" || got.Owner != "u1" {
		t.Fatalf("unexpected chat: %+v", got)
	}

	other := models.Chat{ID: ids.New(), Owner: "u2", CreatedTS: 2, UpdatedTS: 2}
	if err := SaveChat(other); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}
	mine, err := ListChats("u1")
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != c.ID {
		t.Fatalf("expected only u1's chat, got %+v", mine)
	}
	all, err := ListChats("")
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(all))
	}
}

func TestInsertPartsAssignsIDsInEmissionOrder(t *testing.T) {
	openTestStore(t)

	chatID := ids.New()
	msgID := ids.New()
	if err := SaveMessage(models.Message{ID: msgID, Chat: chatID, Role: models.RoleAssistant, TS: 1}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	parts := []models.Part{
		{Type: models.PartProgress, Text: "researching..."},
		{Type: models.PartText, Text: "first"},
		{Type: models.PartTool, ToolCallID: "call-1", ToolType: "catalog_search", State: models.ToolOutputAvailable},
		{Type: models.PartText, Text: "second"},
	}
	written, err := InsertParts(chatID, msgID, parts)
	if err != nil {
		t.Fatalf("InsertParts: %v", err)
	}
	if len(written) != 4 {
		t.Fatalf("expected 4 written parts, got %d", len(written))
	}
	for i := 1; i < len(written); i++ {
		if written[i-1].ID >= written[i].ID {
			t.Fatalf("ids not ascending: %s >= %s", written[i-1].ID, written[i].ID)
		}
	}

	msgs, err := GetMessages(chatID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	got := msgs[0].Parts
	if len(got) != 4 {
		t.Fatalf("expected 4 assembled parts, got %d", len(got))
	}
	// assembly must reproduce emission order even though parts live in
	// different type partitions
	wantTypes := []models.PartType{models.PartProgress, models.PartText, models.PartTool, models.PartText}
	for i, p := range got {
		if p.Type != wantTypes[i] {
			t.Fatalf("part %d: got type %s, want %s", i, p.Type, wantTypes[i])
		}
		if p.Message != msgID {
			t.Fatalf("part %d not attached to message: %+v", i, p)
		}
	}
	if got[1].Text != "first" || got[3].Text != "second" {
		t.Fatalf("text parts out of order: %q, %q", got[1].Text, got[3].Text)
	}
}

func TestGetMessagesIsIdempotent(t *testing.T) {
	openTestStore(t)

	chatID := ids.New()
	m1 := ids.New()
	m2 := ids.New()
	if err := SaveMessage(models.Message{ID: m1, Chat: chatID, Role: models.RoleUser, TS: 1}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if err := SaveMessage(models.Message{ID: m2, Chat: chatID, Role: models.RoleAssistant, TS: 2}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if _, err := InsertParts(chatID, m1, []models.Part{{Type: models.PartText, Text: "question"}}); err != nil {
		t.Fatalf("InsertParts: %v", err)
	}
	if _, err := InsertParts(chatID, m2, []models.Part{{Type: models.PartText, Text: "answer"}}); err != nil {
		t.Fatalf("InsertParts: %v", err)
	}

	first, err := GetMessages(chatID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	second, err := GetMessages(chatID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatalf("repeated assembly differs:\n%s\n%s", a, b)
	}
	if len(first) != 2 || first[0].ID != m1 || first[1].ID != m2 {
		t.Fatalf("messages out of order: %+v", first)
	}
}

func TestInsertPartsSkipsEmptyRejectsUnknown(t *testing.T) {
	openTestStore(t)

	chatID := ids.New()
	msgID := ids.New()
	if err := SaveMessage(models.Message{ID: msgID, Chat: chatID, Role: models.RoleAssistant, TS: 1}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	written, err := InsertParts(chatID, msgID, []models.Part{
		{Type: models.PartText, Text: "   "},
		{Type: models.PartText, Text: "kept"},
	})
	if err != nil {
		t.Fatalf("InsertParts: %v", err)
	}
	if len(written) != 1 || written[0].Text != "kept" {
		t.Fatalf("expected only non-empty part written, got %+v", written)
	}

	if _, err := InsertParts(chatID, msgID, []models.Part{{Type: "bogus", Text: "x"}}); err == nil {
		t.Fatalf("expected error for unknown part type")
	}
}

func TestGetMessagesFailsOnOrphanPart(t *testing.T) {
	openTestStore(t)

	chatID := ids.New()
	msgID := ids.New()
	if err := SaveMessage(models.Message{ID: msgID, Chat: chatID, Role: models.RoleUser, TS: 1}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if _, err := InsertParts(chatID, "ghost-message", []models.Part{{Type: models.PartText, Text: "orphan"}}); err != nil {
		t.Fatalf("InsertParts: %v", err)
	}
	if _, err := GetMessages(chatID); err == nil {
		t.Fatalf("expected error for part referencing missing message")
	}
}

func TestDeleteChatCascades(t *testing.T) {
	openTestStore(t)

	chatID := ids.New()
	if err := SaveChat(models.Chat{ID: chatID, Owner: "u1", CreatedTS: 1, UpdatedTS: 1}); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}
	msgID := ids.New()
	if err := SaveMessage(models.Message{ID: msgID, Chat: chatID, Role: models.RoleUser, TS: 1}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if _, err := InsertParts(chatID, msgID, []models.Part{{Type: models.PartText, Text: "bye"}}); err != nil {
		t.Fatalf("InsertParts: %v", err)
	}

	if err := DeleteChat(chatID); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if _, err := GetChat(chatID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after cascade, got %v", err)
	}
	msgs, err := GetMessages(chatID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages after cascade, got %d", len(msgs))
	}
	for _, pt := range models.PartTypes {
		parts, err := ListParts(chatID, pt)
		if err != nil {
			t.Fatalf("ListParts: %v", err)
		}
		if len(parts) != 0 {
			t.Fatalf("expected no %s parts after cascade, got %d", pt, len(parts))
		}
	}
}

func TestRunMarkerLifecycle(t *testing.T) {
	openTestStore(t)

	chatID := ids.New()
	msgID := ids.New()
	if err := SaveMessage(models.Message{ID: msgID, Chat: chatID, Role: models.RoleAssistant, RunID: "run-1", TS: 1}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	m, err := GetMessage(chatID, msgID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if m.RunID != "run-1" {
		t.Fatalf("expected marker run-1, got %q", m.RunID)
	}
	if err := ClearMessageRun(chatID, msgID); err != nil {
		t.Fatalf("ClearMessageRun: %v", err)
	}
	m, err = GetMessage(chatID, msgID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if m.RunID != "" {
		t.Fatalf("expected cleared marker, got %q", m.RunID)
	}
}

func TestStepLogRoundTrip(t *testing.T) {
	openTestStore(t)

	if _, ok, err := GetStepResult("run-x", 0); err != nil || ok {
		t.Fatalf("expected empty step log, got ok=%v err=%v", ok, err)
	}
	if err := SaveStepResult("run-x", 0, []byte(`{"user_msg":"m1"}`)); err != nil {
		t.Fatalf("SaveStepResult: %v", err)
	}
	data, ok, err := GetStepResult("run-x", 0)
	if err != nil || !ok {
		t.Fatalf("GetStepResult: ok=%v err=%v", ok, err)
	}
	if string(data) != `{"user_msg":"m1"}` {
		t.Fatalf("unexpected step data: %s", data)
	}
	// neighboring indices stay independent
	if _, ok, _ := GetStepResult("run-x", 1); ok {
		t.Fatalf("index 1 should be empty")
	}
}
