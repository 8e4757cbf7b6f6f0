// Package dataset holds the labeled entries and the conversation being built.
//
// A Session accumulates user/assistant turns into the in-progress
// conversation, commits it as a new entry or as a replacement of the entry
// under edit, and saves or loads the entry list as a JSON array.
package dataset

import (
	"github.com/menta2k/vqa-builder/internal/utils"
	"github.com/menta2k/vqa-builder/pkg/apperr"
	"github.com/menta2k/vqa-builder/pkg/types"
)

const noEdit = -1

// Summary is one line of the entry list
type Summary struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
	Turns int    `json:"turns"`
}

// Session is the dataset state
type Session struct {
	entries      []types.Entry
	conversation []types.Turn
	nextID       int
	editing      int
	currentFile  string
}

// New creates an empty Session numbering from 1
func New() *Session {
	return &Session{nextID: 1, editing: noEdit}
}

// AddQATurn appends a question about imageRef and its answer
func (s *Session) AddQATurn(question, answer, imageRef string) error {
	if question == "" || answer == "" || imageRef == "" {
		return apperr.Validation("add question", "question, answer and image are all required")
	}
	s.conversation = append(s.conversation,
		types.Turn{From: types.RoleUser, Value: FormatImageQuestion(s.nextID, ImageReference(imageRef), question)},
		types.Turn{From: types.RoleAssistant, Value: answer},
	)
	return nil
}

// AttachBoxes appends a locate prompt and a box answer for every box
func (s *Session) AttachBoxes(boxes []types.BoundingBox) error {
	if len(boxes) == 0 {
		return apperr.Validation("attach boxes", "mark objects on the image first")
	}
	for _, box := range boxes {
		s.conversation = append(s.conversation,
			types.Turn{From: types.RoleUser, Value: FormatBoxPrompt(box.Label)},
			types.Turn{From: types.RoleAssistant, Value: FormatBoxAnswer(box)},
		)
	}
	return nil
}

// DeleteTurn removes the turn at index and reports whether one was removed
func (s *Session) DeleteTurn(index int) bool {
	if index < 0 || index >= len(s.conversation) {
		return false
	}
	s.conversation = append(s.conversation[:index], s.conversation[index+1:]...)
	return true
}

// FinishEntry commits the conversation under id. The entry under edit is
// replaced in place; otherwise a new entry is appended and the counter
// advances.
func (s *Session) FinishEntry(id string) error {
	if len(s.conversation) == 0 {
		return apperr.Validation("finish entry", "no messages to save")
	}
	if id == "" {
		return apperr.Validation("finish entry", "entry id cannot be empty")
	}

	entry := types.Entry{ID: id, Conversations: s.Conversation()}
	if s.editing != noEdit {
		s.entries[s.editing] = entry
	} else {
		s.entries = append(s.entries, entry)
		s.nextID++
	}
	s.resetConversation()
	return nil
}

// LoadEditTarget puts the entry at index under edit and copies its turns into
// the conversation. It returns the first image reference of the entry's user
// turns when it is a URL or an existing local path.
func (s *Session) LoadEditTarget(index int) (string, error) {
	if !s.validIndex(index) {
		return "", apperr.Validation("edit entry", "select an entry to edit")
	}
	entry := s.entries[index]
	s.editing = index
	s.conversation = make([]types.Turn, len(entry.Conversations))
	copy(s.conversation, entry.Conversations)

	for _, turn := range entry.Conversations {
		if turn.From != types.RoleUser {
			continue
		}
		ref, ok := ExtractImageRef(turn.Value)
		if !ok {
			continue
		}
		if utils.IsRemote(ref) || utils.FileExists(ref) {
			return ref, nil
		}
		return "", nil
	}
	return "", nil
}

// DeleteEntry removes the entry at index. It reports whether the removed
// entry was under edit, in which case edit mode is cancelled and the
// conversation reset.
func (s *Session) DeleteEntry(index int) (bool, error) {
	if !s.validIndex(index) {
		return false, apperr.Validation("delete entry", "select an entry to delete")
	}
	s.entries = append(s.entries[:index], s.entries[index+1:]...)

	switch {
	case s.editing == index:
		s.resetConversation()
		return true, nil
	case s.editing > index:
		s.editing--
	}
	return false, nil
}

// Save writes the entries to path, or to the current file when path is
// empty. It returns the destination and the number of bytes written.
func (s *Session) Save(path string) (string, int64, error) {
	if len(s.entries) == 0 {
		return "", 0, apperr.Validation("save dataset", "no data to save")
	}
	if path == "" {
		path = s.currentFile
	}
	if path == "" {
		return "", 0, apperr.Validation("save dataset", "choose a destination file")
	}
	n, err := WriteFile(path, s.entries)
	if err != nil {
		return "", 0, apperr.IO("save dataset", err)
	}
	s.currentFile = path
	return path, n, nil
}

// Load replaces the entries with the contents of path and renumbers from the
// largest identity_<n> id. Edit mode and the conversation are reset.
func (s *Session) Load(path string) error {
	if path == "" {
		return apperr.Validation("load dataset", "choose a file to open")
	}
	entries, err := ReadFile(path)
	if err != nil {
		return apperr.IO("load dataset", err)
	}
	s.entries = entries
	s.nextID = NextIDFor(entries)
	s.currentFile = path
	s.resetConversation()
	return nil
}

// ClearAll empties the dataset, restarts numbering and forgets the file
func (s *Session) ClearAll() {
	s.entries = nil
	s.nextID = 1
	s.currentFile = ""
	s.resetConversation()
}

// Entries returns a copy of the entry list
func (s *Session) Entries() []types.Entry {
	out := make([]types.Entry, len(s.entries))
	for i, e := range s.entries {
		turns := make([]types.Turn, len(e.Conversations))
		copy(turns, e.Conversations)
		out[i] = types.Entry{ID: e.ID, Conversations: turns}
	}
	return out
}

// Summaries returns the entry list lines in order
func (s *Session) Summaries() []Summary {
	out := make([]Summary, len(s.entries))
	for i, e := range s.entries {
		out[i] = Summary{Index: i, ID: e.ID, Turns: len(e.Conversations)}
	}
	return out
}

// Conversation returns a copy of the in-progress turns
func (s *Session) Conversation() []types.Turn {
	out := make([]types.Turn, len(s.conversation))
	copy(out, s.conversation)
	return out
}

// NextID returns the auto-numbering counter
func (s *Session) NextID() int {
	return s.nextID
}

// DefaultID returns the id offered for the next commit: the id of the entry
// under edit, otherwise the next auto-numbered id
func (s *Session) DefaultID() string {
	if s.editing != noEdit && s.validIndex(s.editing) {
		return s.entries[s.editing].ID
	}
	return FormatID(s.nextID)
}

// EditingIndex returns the index under edit
func (s *Session) EditingIndex() (int, bool) {
	return s.editing, s.editing != noEdit
}

// CurrentFile returns the path last loaded or saved
func (s *Session) CurrentFile() string {
	return s.currentFile
}

// HasID reports whether any entry other than skip uses id
func (s *Session) HasID(id string, skip int) bool {
	for i, e := range s.entries {
		if i != skip && e.ID == id {
			return true
		}
	}
	return false
}

func (s *Session) validIndex(index int) bool {
	return index >= 0 && index < len(s.entries)
}

func (s *Session) resetConversation() {
	s.conversation = nil
	s.editing = noEdit
}
