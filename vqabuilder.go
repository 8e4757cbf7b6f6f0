// Package vqabuilder builds visual question answering datasets by hand.
//
// A Builder is the single session object of the tool. It owns the
// annotation session of the open image and the dataset session of the
// entries being labeled, and applies the side effects that span both:
// attaching boxes to the conversation clears the drawn boxes, finishing or
// cancelling an entry clears the boxes and the image field.
//
// Basic usage:
//
//	b := vqabuilder.New()
//	if err := b.OpenImage("photos/cat.jpg"); err != nil {
//		log.Fatal(err)
//	}
//
//	// one drag on the display image, then a label
//	b.BeginDrag(40, 30)
//	b.EndDrag(220, 180)
//	if err := b.CommitBox("cat"); err != nil {
//		log.Fatal(err)
//	}
//
//	_ = b.AddQA("What is on the sofa?", "A sleeping cat.", "")
//	_ = b.AttachBoxes()
//	_ = b.FinishEntry("")
//	_ = b.Save("dataset.json")
//
// The Builder is not safe for concurrent use. Every operation runs to
// completion and either applies or is rejected with an apperr validation
// error, leaving the state unchanged; file and decoder failures are apperr
// IO errors.
//
// Coordinates written to the dataset are in the display space of the
// downscaled image unless Config.MapToOriginal is set.
package vqabuilder

import (
	"context"
	"image"

	log "github.com/sirupsen/logrus"

	"github.com/menta2k/vqa-builder/internal/utils"
	"github.com/menta2k/vqa-builder/pkg/annotation"
	"github.com/menta2k/vqa-builder/pkg/apperr"
	"github.com/menta2k/vqa-builder/pkg/dataset"
	"github.com/menta2k/vqa-builder/pkg/detection"
	"github.com/menta2k/vqa-builder/pkg/imageio"
	"github.com/menta2k/vqa-builder/pkg/types"
)

// Version of the dataset builder
const Version = "1.0.0"

// Config holds the Builder configuration
type Config struct {
	Display       imageio.Config
	MinBoxSize    float64
	MapToOriginal bool
}

// DefaultConfig returns the 800x600 display bound and a 5 px minimum box
func DefaultConfig() Config {
	return Config{
		Display:    imageio.DefaultConfig(),
		MinBoxSize: annotation.DefaultMinBoxSize,
	}
}

// Assistant proposes boxes and answers for the open image
type Assistant struct {
	Detector    *detection.Detector
	Model       string
	SendSize    int
	SendQuality int
}

// Builder is the top-level session object
type Builder struct {
	config      Config
	annotations *annotation.Session
	dataset     *dataset.Session
	assistant   *Assistant
	imageRef    string
}

// State is a snapshot of the session for display
type State struct {
	NextID       int                 `json:"next_id"`
	DefaultID    string              `json:"default_id"`
	EditingIndex *int                `json:"editing_index"`
	CurrentFile  string              `json:"current_file"`
	ImageRef     string              `json:"image_ref"`
	Image        *ImageState         `json:"image,omitempty"`
	Boxes        []types.BoundingBox `json:"boxes"`
	BoxList      []string            `json:"box_list"`
	Candidate    *types.Rect         `json:"candidate,omitempty"`
	Conversation []types.Turn        `json:"conversation"`
	Entries      []dataset.Summary   `json:"entries"`
	Assist       bool                `json:"assist"`
}

// ImageState describes the open image
type ImageState struct {
	Source   string  `json:"source"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Original [2]int  `json:"original"`
	Scale    float64 `json:"scale"`
	ScaleY   float64 `json:"scale_y"`
}

// New creates a new Builder with default configuration
func New() *Builder {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a new Builder with custom configuration
func NewWithConfig(config Config) *Builder {
	return &Builder{
		config:      config,
		annotations: annotation.NewWithMinBoxSize(imageio.NewWithConfig(config.Display), config.MinBoxSize),
		dataset:     dataset.New(),
	}
}

// SetAssistant enables vision model suggestions
func (b *Builder) SetAssistant(a *Assistant) {
	b.assistant = a
}

// OpenImage loads path (or URL) into the annotation canvas and the image field
func (b *Builder) OpenImage(path string) error {
	if path == "" {
		return nil
	}
	if err := b.annotations.LoadImage(path); err != nil {
		return err
	}
	b.imageRef = path
	pic := b.annotations.Picture()
	log.WithFields(log.Fields{
		"source":   path,
		"original": pic.Original,
		"display":  pic.DisplaySize(),
	}).Debug("Opened image")
	return nil
}

// SetImageRef sets the image field without loading it
func (b *Builder) SetImageRef(ref string) {
	b.imageRef = ref
}

// ImageRef returns the image field
func (b *Builder) ImageRef() string {
	return b.imageRef
}

// DisplayImage returns the display bitmap of the open image
func (b *Builder) DisplayImage() (image.Image, bool) {
	pic := b.annotations.Picture()
	if pic == nil {
		return nil, false
	}
	return pic.Display, true
}

// BeginDrag starts a candidate rectangle
func (b *Builder) BeginDrag(x, y float64) {
	b.annotations.BeginDrag(x, y)
}

// UpdateDrag resizes the candidate rectangle
func (b *Builder) UpdateDrag(x, y float64) {
	b.annotations.UpdateDrag(x, y)
}

// EndDrag finishes the drag and reports whether a candidate is pending
func (b *Builder) EndDrag(x, y float64) bool {
	return b.annotations.EndDrag(x, y)
}

// CommitBox labels the pending candidate
func (b *Builder) CommitBox(label string) error {
	return b.annotations.CommitBox(label)
}

// RemoveLastBox removes the most recent box
func (b *Builder) RemoveLastBox() {
	b.annotations.RemoveLast()
}

// ClearBoxes removes all boxes and the candidate
func (b *Builder) ClearBoxes() {
	b.annotations.Clear()
}

// Boxes returns the committed boxes
func (b *Builder) Boxes() []types.BoundingBox {
	return b.annotations.Boxes()
}

// AddQA appends a question/answer pair about imageRef, or about the image
// field when imageRef is empty
func (b *Builder) AddQA(question, answer, imageRef string) error {
	if imageRef == "" {
		imageRef = b.imageRef
	}
	return b.dataset.AddQATurn(question, answer, imageRef)
}

// AttachBoxes converts the committed boxes into conversation turns and
// clears them
func (b *Builder) AttachBoxes() error {
	boxes := b.annotations.Boxes()
	if b.config.MapToOriginal {
		sx, sy := b.annotations.Scales()
		for i := range boxes {
			boxes[i].Rect = boxes[i].Rect.ScaleXY(1/sx, 1/sy)
		}
	}
	if err := b.dataset.AttachBoxes(boxes); err != nil {
		return err
	}
	b.annotations.Clear()
	return nil
}

// DeleteTurn removes one turn of the conversation being built
func (b *Builder) DeleteTurn(index int) bool {
	return b.dataset.DeleteTurn(index)
}

// Conversation returns the turns being built
func (b *Builder) Conversation() []types.Turn {
	return b.dataset.Conversation()
}

// FinishEntry commits the conversation under id, or under the default id
// when id is empty
func (b *Builder) FinishEntry(id string) error {
	if id == "" {
		id = b.dataset.DefaultID()
	}
	editing, isEdit := b.dataset.EditingIndex()
	skip := -1
	if isEdit {
		skip = editing
	}
	duplicate := b.dataset.HasID(id, skip)

	if err := b.dataset.FinishEntry(id); err != nil {
		return err
	}
	if duplicate {
		log.WithField("id", id).Warn("Entry id is already used by another entry")
	}
	log.WithFields(log.Fields{"id": id, "edit": isEdit}).Info("Entry saved")
	b.resetInputs()
	return nil
}

// EditEntry loads the entry at index for editing and re-opens its image
// when the reference is a URL or an existing file
func (b *Builder) EditEntry(index int) (string, error) {
	ref, err := b.dataset.LoadEditTarget(index)
	if err != nil {
		return "", err
	}
	b.imageRef = ref
	if ref != "" {
		if err := b.annotations.LoadImage(ref); err != nil {
			log.WithError(err).WithField("source", ref).Warn("Could not re-open entry image")
		}
	}
	return ref, nil
}

// DeleteEntry removes the entry at index; the caller obtains confirmation
func (b *Builder) DeleteEntry(index int) error {
	cancelled, err := b.dataset.DeleteEntry(index)
	if err != nil {
		return err
	}
	if cancelled {
		b.resetInputs()
	}
	return nil
}

// Entries returns a copy of the dataset
func (b *Builder) Entries() []types.Entry {
	return b.dataset.Entries()
}

// Save writes the dataset to path, or to the current file when path is empty
func (b *Builder) Save(path string) error {
	dest, n, err := b.dataset.Save(path)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"path":    dest,
		"entries": len(b.dataset.Summaries()),
		"size":    utils.FormatFileSize(n),
	}).Info("Dataset saved")
	return nil
}

// Load replaces the dataset with the contents of path
func (b *Builder) Load(path string) error {
	if err := b.dataset.Load(path); err != nil {
		return err
	}
	b.resetInputs()
	log.WithFields(log.Fields{
		"path":    path,
		"entries": len(b.dataset.Summaries()),
		"next_id": b.dataset.NextID(),
	}).Info("Dataset loaded")
	return nil
}

// ClearAll discards the dataset; the caller obtains confirmation
func (b *Builder) ClearAll() {
	b.dataset.ClearAll()
	b.resetInputs()
}

// SuggestBox asks the assistant for the dominant object of the open image and
// installs it as the pending candidate. It returns the proposed label.
func (b *Builder) SuggestBox(ctx context.Context) (string, error) {
	_, imgB64, err := b.assistPayload("suggest box")
	if err != nil {
		return "", err
	}
	s, ok, err := b.assistant.Detector.SuggestBox(ctx, b.assistant.Model, imgB64)
	if err != nil {
		return "", apperr.IO("suggest box", err)
	}
	if !ok {
		return "", apperr.Validation("suggest box", "no object found in the image")
	}

	size := b.annotations.DisplaySize()
	if err := b.annotations.SetCandidate(s.Box.ToRect(size.X, size.Y)); err != nil {
		return "", err
	}
	log.WithFields(log.Fields{"label": s.Label, "confidence": s.Confidence}).Debug("Box suggested")
	return s.Label, nil
}

// DraftAnswer asks the assistant to answer question about the open image
func (b *Builder) DraftAnswer(ctx context.Context, question string) (string, error) {
	if question == "" {
		return "", apperr.Validation("draft answer", "enter a question first")
	}
	_, imgB64, err := b.assistPayload("draft answer")
	if err != nil {
		return "", err
	}
	answer, err := b.assistant.Detector.DraftAnswer(ctx, b.assistant.Model, imgB64, question)
	if err != nil {
		return "", apperr.IO("draft answer", err)
	}
	return answer, nil
}

// Snapshot returns the session state
func (b *Builder) Snapshot() State {
	st := State{
		NextID:       b.dataset.NextID(),
		DefaultID:    b.dataset.DefaultID(),
		CurrentFile:  b.dataset.CurrentFile(),
		ImageRef:     b.imageRef,
		Boxes:        b.annotations.Boxes(),
		Conversation: b.dataset.Conversation(),
		Entries:      b.dataset.Summaries(),
		Assist:       b.assistant != nil,
	}
	st.BoxList = make([]string, 0, b.annotations.Len())
	for _, box := range st.Boxes {
		st.BoxList = append(st.BoxList, annotation.Describe(box))
	}
	if idx, ok := b.dataset.EditingIndex(); ok {
		st.EditingIndex = &idx
	}
	if r, ok := b.annotations.Candidate(); ok {
		st.Candidate = &r
	}
	if pic := b.annotations.Picture(); pic != nil {
		size := pic.DisplaySize()
		st.Image = &ImageState{
			Source:   pic.Source,
			Width:    size.X,
			Height:   size.Y,
			Original: [2]int{pic.Original.X, pic.Original.Y},
			Scale:    pic.Scale,
			ScaleY:   pic.ScaleY,
		}
	}
	return st
}

func (b *Builder) assistPayload(op string) (*imageio.Picture, string, error) {
	if b.assistant == nil || b.assistant.Detector == nil {
		return nil, "", apperr.Validation(op, "no assist backend is configured")
	}
	pic := b.annotations.Picture()
	if pic == nil {
		return nil, "", apperr.Validation(op, "load an image first")
	}
	quality := b.assistant.SendQuality
	if quality <= 0 {
		quality = 85
	}
	imgB64, err := imageio.PrepareForModel(pic.Display, b.assistant.SendSize, quality)
	if err != nil {
		return nil, "", apperr.IO(op, err)
	}
	return pic, imgB64, nil
}

// resetInputs clears the boxes and the image field after an entry is
// committed or abandoned
func (b *Builder) resetInputs() {
	b.annotations.Clear()
	b.imageRef = ""
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
