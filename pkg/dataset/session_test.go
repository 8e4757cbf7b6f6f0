package dataset

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/menta2k/vqa-builder/pkg/apperr"
	"github.com/menta2k/vqa-builder/pkg/types"
)

func sampleBoxes(k int) []types.BoundingBox {
	boxes := make([]types.BoundingBox, k)
	for i := range boxes {
		off := float64(i * 10)
		boxes[i] = types.BoundingBox{
			Rect:  types.Rect{X1: off, Y1: off, X2: off + 20, Y2: off + 30},
			Label: "obj",
		}
	}
	return boxes
}

func commit(t *testing.T, s *Session, id string) {
	t.Helper()
	if err := s.AddQATurn("What?", "Something.", "img.jpg"); err != nil {
		t.Fatalf("AddQATurn failed: %v", err)
	}
	if err := s.FinishEntry(id); err != nil {
		t.Fatalf("FinishEntry failed: %v", err)
	}
}

func TestAddQATurnFormat(t *testing.T) {
	s := New()
	s.nextID = 3

	if err := s.AddQATurn("What?", "A cat.", "http://x/y.jpg"); err != nil {
		t.Fatalf("AddQATurn failed: %v", err)
	}

	got := s.Conversation()
	want := []types.Turn{
		{From: "user", Value: "Picture 3: <img>http://x/y.jpg</img>\nWhat?"},
		{From: "assistant", Value: "A cat."},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("conversation = %#v, want %#v", got, want)
	}
}

func TestAddQATurnStripsDirectory(t *testing.T) {
	s := New()
	if err := s.AddQATurn("Q", "A", "/data/images/dog.png"); err != nil {
		t.Fatal(err)
	}
	if v := s.Conversation()[0].Value; v != "Picture 1: <img>dog.png</img>\nQ" {
		t.Errorf("user turn = %q", v)
	}
}

func TestAddQATurnRequiresAllFields(t *testing.T) {
	s := New()
	for _, args := range [][3]string{
		{"", "A", "img.jpg"},
		{"Q", "", "img.jpg"},
		{"Q", "A", ""},
	} {
		if err := s.AddQATurn(args[0], args[1], args[2]); !apperr.IsValidation(err) {
			t.Errorf("AddQATurn%v: expected validation error, got %v", args, err)
		}
	}
	if len(s.Conversation()) != 0 {
		t.Error("rejected calls should not append turns")
	}
}

func TestAttachBoxesAppendsTwoTurnsPerBox(t *testing.T) {
	for k := 1; k <= 4; k++ {
		s := New()
		if err := s.AttachBoxes(sampleBoxes(k)); err != nil {
			t.Fatalf("AttachBoxes failed: %v", err)
		}
		turns := s.Conversation()
		if len(turns) != 2*k {
			t.Fatalf("k=%d: got %d turns, want %d", k, len(turns), 2*k)
		}
		for i, turn := range turns {
			want := types.RoleUser
			if i%2 == 1 {
				want = types.RoleAssistant
			}
			if turn.From != want {
				t.Errorf("k=%d turn %d from %q, want %q", k, i, turn.From, want)
			}
		}
		if turns[1].Value != "<ref>obj</ref><box>(0,0),(20,30)</box>" {
			t.Errorf("box answer = %q", turns[1].Value)
		}
	}

	if err := New().AttachBoxes(nil); !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestDeleteTurn(t *testing.T) {
	s := New()
	if err := s.AttachBoxes(sampleBoxes(2)); err != nil {
		t.Fatal(err)
	}

	if s.DeleteTurn(-1) || s.DeleteTurn(4) {
		t.Error("out of range deletes should be no-ops")
	}
	if !s.DeleteTurn(0) {
		t.Fatal("DeleteTurn(0) should succeed")
	}
	turns := s.Conversation()
	if len(turns) != 3 || turns[0].From != types.RoleAssistant {
		t.Errorf("unexpected turns after delete: %#v", turns)
	}
}

func TestFinishEntryAppendsAndIncrements(t *testing.T) {
	s := New()
	commit(t, s, s.DefaultID())

	if s.NextID() != 2 {
		t.Errorf("NextID = %d, want 2", s.NextID())
	}
	if len(s.Entries()) != 1 || s.Entries()[0].ID != "identity_1" {
		t.Errorf("entries = %#v", s.Entries())
	}
	if len(s.Conversation()) != 0 {
		t.Error("conversation should be reset")
	}
	if s.DefaultID() != "identity_2" {
		t.Errorf("DefaultID = %q", s.DefaultID())
	}
}

func TestFinishEntryValidation(t *testing.T) {
	s := New()
	if err := s.FinishEntry("identity_1"); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for empty conversation, got %v", err)
	}
	if err := s.AddQATurn("Q", "A", "i.jpg"); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishEntry(""); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for empty id, got %v", err)
	}
	if len(s.Conversation()) != 2 || s.NextID() != 1 {
		t.Error("rejected finish should leave state unchanged")
	}
}

func TestEditReplacesInPlace(t *testing.T) {
	s := New()
	commit(t, s, "identity_1")
	commit(t, s, "identity_2")
	commit(t, s, "identity_3")

	if _, err := s.LoadEditTarget(1); err != nil {
		t.Fatalf("LoadEditTarget failed: %v", err)
	}
	if idx, ok := s.EditingIndex(); !ok || idx != 1 {
		t.Fatalf("EditingIndex = %d, %v", idx, ok)
	}
	if !s.DeleteTurn(1) {
		t.Fatal("DeleteTurn failed")
	}
	if len(s.Entries()[1].Conversations) != 2 {
		t.Error("editing must not mutate the stored entry before finishing")
	}
	if err := s.AttachBoxes(sampleBoxes(1)); err != nil {
		t.Fatal(err)
	}

	before := s.NextID()
	if err := s.FinishEntry("identity_2b"); err != nil {
		t.Fatalf("FinishEntry failed: %v", err)
	}
	if s.NextID() != before {
		t.Errorf("counter changed from %d to %d", before, s.NextID())
	}
	entries := s.Entries()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[1].ID != "identity_2b" || len(entries[1].Conversations) != 3 {
		t.Errorf("entry 1 = %#v", entries[1])
	}
	if _, ok := s.EditingIndex(); ok {
		t.Error("edit cursor should be cleared")
	}
}

func TestDefaultIDWhileEditing(t *testing.T) {
	s := New()
	commit(t, s, "identity_1")
	commit(t, s, "custom")

	if _, err := s.LoadEditTarget(1); err != nil {
		t.Fatal(err)
	}
	if s.DefaultID() != "custom" {
		t.Errorf("DefaultID while editing = %q, want custom", s.DefaultID())
	}
	if err := s.FinishEntry(s.DefaultID()); err != nil {
		t.Fatal(err)
	}
	if s.DefaultID() != "identity_3" {
		t.Errorf("DefaultID after edit = %q, want identity_3", s.DefaultID())
	}
}

func TestLoadEditTargetImageRef(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "local.png")
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New()
	s.entries = []types.Entry{
		{ID: "url", Conversations: []types.Turn{
			{From: "assistant", Value: "<img>ignored.png</img>"},
			{From: "user", Value: "Picture 1: <img>https://x/y.jpg</img>\nQ"},
		}},
		{ID: "local", Conversations: []types.Turn{
			{From: "user", Value: "Picture 2: <img>" + local + "</img>\nQ"},
		}},
		{ID: "missing", Conversations: []types.Turn{
			{From: "user", Value: "Picture 3: <img>gone.png</img>\nQ"},
			{From: "user", Value: "Picture 3: <img>https://later/z.jpg</img>\nQ"},
		}},
		{ID: "none", Conversations: []types.Turn{{From: "user", Value: "Отметьте cat"}}},
	}

	cases := []string{"https://x/y.jpg", local, "", ""}
	for i, want := range cases {
		got, err := s.LoadEditTarget(i)
		if err != nil {
			t.Fatalf("LoadEditTarget(%d) failed: %v", i, err)
		}
		if got != want {
			t.Errorf("LoadEditTarget(%d) ref = %q, want %q", i, got, want)
		}
	}

	if _, err := s.LoadEditTarget(4); !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestDeleteEntryUnderEdit(t *testing.T) {
	s := New()
	commit(t, s, "identity_1")
	commit(t, s, "identity_2")

	if _, err := s.LoadEditTarget(1); err != nil {
		t.Fatal(err)
	}
	cancelled, err := s.DeleteEntry(1)
	if err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}
	if !cancelled {
		t.Error("expected edit mode to be cancelled")
	}
	if _, ok := s.EditingIndex(); ok {
		t.Error("edit cursor should be cleared")
	}
	if len(s.Conversation()) != 0 {
		t.Error("conversation should be reset")
	}
}

func TestDeleteEntryBeforeEditCursor(t *testing.T) {
	s := New()
	for i := 0; i < 4; i++ {
		commit(t, s, s.DefaultID())
	}
	if _, err := s.LoadEditTarget(2); err != nil {
		t.Fatal(err)
	}

	cancelled, err := s.DeleteEntry(0)
	if err != nil || cancelled {
		t.Fatalf("DeleteEntry(0) = %v, %v", cancelled, err)
	}
	if idx, ok := s.EditingIndex(); !ok || idx != 1 {
		t.Errorf("EditingIndex = %d, %v, want 1", idx, ok)
	}

	if _, err := s.DeleteEntry(2); err != nil {
		t.Fatal(err)
	}
	if idx, _ := s.EditingIndex(); idx != 1 {
		t.Errorf("deleting after the cursor moved it to %d", idx)
	}

	if err := s.FinishEntry("edited"); err != nil {
		t.Fatal(err)
	}
	if got := s.Entries()[1].ID; got != "edited" {
		t.Errorf("edited entry landed at wrong place: %q", got)
	}

	if _, err := s.DeleteEntry(9); !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "dataset.json")

	s := New()
	if err := s.AddQATurn("Что это?", "Кошка & собака", "https://x/y.jpg"); err != nil {
		t.Fatal(err)
	}
	if err := s.AttachBoxes(sampleBoxes(2)); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishEntry("identity_1"); err != nil {
		t.Fatal(err)
	}
	commit(t, s, "custom")

	dest, n, err := s.Save(path)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if dest != path || n == 0 || s.CurrentFile() != path {
		t.Errorf("Save returned %q, %d; current file %q", dest, n, s.CurrentFile())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(raw)
	for _, want := range []string{"Что это?", "<img>https://x/y.jpg</img>", "<ref>obj</ref>", "Кошка & собака", "\n  {\n    \"id\": \"identity_1\""} {
		if !strings.Contains(text, want) {
			t.Errorf("saved file is missing %q:\n%s", want, text)
		}
	}
	if strings.HasSuffix(text, "\n") {
		t.Error("saved file should not end with a newline")
	}

	loaded := New()
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(loaded.Entries(), s.Entries()) {
		t.Errorf("round trip mismatch:\n got %#v\nwant %#v", loaded.Entries(), s.Entries())
	}
	if loaded.NextID() != 2 {
		t.Errorf("NextID = %d, want 2", loaded.NextID())
	}
}

func TestSaveUsesCurrentFile(t *testing.T) {
	s := New()
	if _, _, err := s.Save(""); !apperr.IsValidation(err) {
		t.Errorf("expected validation error with no entries, got %v", err)
	}
	commit(t, s, "identity_1")
	if _, _, err := s.Save(""); !apperr.IsValidation(err) {
		t.Errorf("expected validation error with no destination, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "a.json")
	if _, _, err := s.Save(path); err != nil {
		t.Fatal(err)
	}
	commit(t, s, "identity_2")
	if dest, _, err := s.Save(""); err != nil || dest != path {
		t.Fatalf("Save(\"\") = %q, %v", dest, err)
	}
	entries, err := ReadFile(path)
	if err != nil || len(entries) != 2 {
		t.Errorf("ReadFile = %d entries, %v", len(entries), err)
	}
}

func TestSaveUnwritableDestination(t *testing.T) {
	dir := t.TempDir()
	s := New()
	commit(t, s, "identity_1")

	if _, _, err := s.Save(dir); !apperr.IsIO(err) {
		t.Errorf("expected IO error writing to a directory, got %v", err)
	}
	if s.CurrentFile() != "" {
		t.Error("failed save should not change the current file")
	}
}

func TestLoadRenumbers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.json")
	data := `[
  {"id": "identity_3", "conversations": []},
  {"id": "identity_10", "conversations": [{"from": "user", "value": "hi"}]},
  {"id": "other", "conversations": []}
]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New()
	if err := s.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.NextID() != 11 {
		t.Errorf("NextID = %d, want 11", s.NextID())
	}
	if s.DefaultID() != "identity_11" {
		t.Errorf("DefaultID = %q", s.DefaultID())
	}
	sums := s.Summaries()
	if len(sums) != 3 || sums[1] != (Summary{Index: 1, ID: "identity_10", Turns: 1}) {
		t.Errorf("Summaries = %#v", sums)
	}
}

func TestLoadMalformedKeepsState(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`[{"id": "identity_1",`), 0o644); err != nil {
		t.Fatal(err)
	}
	object := filepath.Join(dir, "object.json")
	if err := os.WriteFile(object, []byte(`{"id": "identity_1"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New()
	commit(t, s, "identity_1")

	for _, path := range []string{bad, object, filepath.Join(dir, "missing.json")} {
		if err := s.Load(path); !apperr.IsIO(err) {
			t.Errorf("Load(%s): expected IO error, got %v", filepath.Base(path), err)
		}
	}
	if len(s.Entries()) != 1 || s.NextID() != 2 || s.CurrentFile() != "" {
		t.Error("failed load should leave state unchanged")
	}
}

func TestLoadCancelsEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.json")
	s := New()
	commit(t, s, "identity_1")
	if _, _, err := s.Save(path); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadEditTarget(0); err != nil {
		t.Fatal(err)
	}
	if err := s.Load(path); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.EditingIndex(); ok {
		t.Error("load should cancel edit mode")
	}
	if len(s.Conversation()) != 0 {
		t.Error("load should reset the conversation")
	}
}

func TestClearAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.json")
	s := New()
	commit(t, s, "identity_1")
	if _, _, err := s.Save(path); err != nil {
		t.Fatal(err)
	}
	if err := s.AddQATurn("Q", "A", "i.jpg"); err != nil {
		t.Fatal(err)
	}

	s.ClearAll()
	if len(s.Entries()) != 0 || len(s.Conversation()) != 0 {
		t.Error("ClearAll should empty entries and conversation")
	}
	if s.NextID() != 1 || s.CurrentFile() != "" {
		t.Errorf("NextID = %d, CurrentFile = %q", s.NextID(), s.CurrentFile())
	}
}

func TestHasID(t *testing.T) {
	s := New()
	commit(t, s, "identity_1")
	commit(t, s, "dup")

	if !s.HasID("dup", -1) {
		t.Error("expected dup to be found")
	}
	if s.HasID("dup", 1) {
		t.Error("skip index should be ignored")
	}
}
