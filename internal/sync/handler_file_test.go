// Package sync tests for the file handler.
package sync

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	apperrors "github.com/jwei-lin/notecove/backend/internal/errors"
	"github.com/jwei-lin/notecove/backend/internal/models"
	"github.com/jwei-lin/notecove/backend/internal/remote"
	"github.com/jwei-lin/notecove/backend/internal/sync/events"
	"github.com/jwei-lin/notecove/backend/internal/sync/storage"
)

// fakeStaging is a test implementation of Staging.
type fakeStaging struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	readErr error
}

func newFakeStaging() *fakeStaging {
	return &fakeStaging{blobs: make(map[string][]byte)}
}

// put stores data under its digest and returns the hash, the way the
// editor stages an attachment before enqueueing its upload.
func (s *fakeStaging) put(data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := storage.Hash(data)
	s.blobs[hash] = data
	return hash
}

func (s *fakeStaging) Read(hash string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	data, ok := s.blobs[hash]
	if !ok {
		return nil, errors.New("attachment not found")
	}
	return data, nil
}

// fakeFilesAPI is a test implementation of FilesAPI.
type fakeFilesAPI struct {
	mu sync.Mutex

	uploadResult *remote.UploadResult
	uploadErr    error
	uploads      []fileUpload
}

type fileUpload struct {
	noteID      string
	filename    string
	contentType string
	size        int
}

func (a *fakeFilesAPI) UploadFile(ctx context.Context, noteID, filename, contentType string, data []byte) (*remote.UploadResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.uploadErr != nil {
		return nil, a.uploadErr
	}
	a.uploads = append(a.uploads, fileUpload{noteID, filename, contentType, len(data)})
	if a.uploadResult != nil {
		return a.uploadResult, nil
	}
	return &remote.UploadResult{FileID: "file-1"}, nil
}

type fileFixture struct {
	staging *fakeStaging
	api     *fakeFilesAPI
	mapper  *fakeMapper
	handler *FileHandler
}

func newFileFixture() *fileFixture {
	f := &fileFixture{
		staging: newFakeStaging(),
		api:     &fakeFilesAPI{},
		mapper:  newFakeMapper(),
	}
	f.handler = NewFileHandler(f.staging, f.api, f.mapper, nil)
	return f
}

// pngBytes encodes a small solid image so content sniffing sees a real
// PNG stream instead of junk.
func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testFileOp(t *testing.T, opType models.OperationType, noteID, hash, filename, hint string) *models.Operation {
	t.Helper()
	return testOpWithPayload(t, opType, noteID, models.FilePayload{
		Hash:     hash,
		Filename: filename,
		MIMEHint: hint,
	})
}

// TestFileHandlerCategory verifies the handler serves file operations.
func TestFileHandlerCategory(t *testing.T) {
	f := newFileFixture()
	if f.handler.Category() != models.CategoryFile {
		t.Errorf("Category() = %v, want CategoryFile", f.handler.Category())
	}
}

// TestFileUpload verifies a staged image reaches the server with a
// sniffed content type.
func TestFileUpload(t *testing.T) {
	f := newFileFixture()
	data := pngBytes(t)
	hash := f.staging.put(data)

	op := testFileOp(t, models.OpImageUpload, "note-1", hash, "photo.png", "")
	if err := f.handler.Handle(context.Background(), op); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(f.api.uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(f.api.uploads))
	}
	got := f.api.uploads[0]
	if got.noteID != "note-1" {
		t.Errorf("upload note = %s, want note-1", got.noteID)
	}
	if got.filename != "photo.png" {
		t.Errorf("upload filename = %s, want photo.png", got.filename)
	}
	if got.contentType != "image/png" {
		t.Errorf("upload content type = %s, want image/png", got.contentType)
	}
	if got.size != len(data) {
		t.Errorf("upload size = %d, want %d", got.size, len(data))
	}
}

// TestFileUpload_resolvesMigratedNote verifies the upload targets the
// server ID once the note create has migrated it.
func TestFileUpload_resolvesMigratedNote(t *testing.T) {
	f := newFileFixture()
	hash := f.staging.put(pngBytes(t))
	f.mapper.aliases["local-note-1"] = "srv-1"

	op := testFileOp(t, models.OpImageUpload, "local-note-1", hash, "photo.png", "")
	if err := f.handler.Handle(context.Background(), op); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(f.api.uploads) != 1 || f.api.uploads[0].noteID != "srv-1" {
		t.Errorf("uploads = %+v, want one upload to srv-1", f.api.uploads)
	}
}

// TestFileUpload_awaitingNoteCreate verifies an upload whose note is
// still provisional is deferred instead of failed.
func TestFileUpload_awaitingNoteCreate(t *testing.T) {
	f := newFileFixture()
	hash := f.staging.put(pngBytes(t))

	op := testFileOp(t, models.OpImageUpload, "local-note-1", hash, "photo.png", "")
	err := f.handler.Handle(context.Background(), op)

	if !errors.Is(err, ErrAwaitingEntity) {
		t.Fatalf("error = %v, want ErrAwaitingEntity", err)
	}
	if len(f.api.uploads) != 0 {
		t.Errorf("uploads = %d, want 0", len(f.api.uploads))
	}
}

// TestAudioUpload_hintFillsUnknownType verifies the enqueue-time hint is
// used when sniffing comes up empty.
func TestAudioUpload_hintFillsUnknownType(t *testing.T) {
	f := newFileFixture()
	hash := f.staging.put([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05})

	op := testFileOp(t, models.OpAudioUpload, "note-1", hash, "memo.m4a", "audio/mp4")
	if err := f.handler.Handle(context.Background(), op); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(f.api.uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(f.api.uploads))
	}
	if got := f.api.uploads[0].contentType; got != "audio/mp4" {
		t.Errorf("upload content type = %s, want audio/mp4", got)
	}
}

// TestFileUpload_sniffBeatsHint verifies real bytes override a wrong
// enqueue-time hint.
func TestFileUpload_sniffBeatsHint(t *testing.T) {
	f := newFileFixture()
	hash := f.staging.put(pngBytes(t))

	op := testFileOp(t, models.OpImageUpload, "note-1", hash, "memo.m4a", "audio/mp4")
	if err := f.handler.Handle(context.Background(), op); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if got := f.api.uploads[0].contentType; got != "image/png" {
		t.Errorf("upload content type = %s, want image/png", got)
	}
}

// TestFileUpload_missingPayload verifies an operation without a payload
// fails as malformed.
func TestFileUpload_missingPayload(t *testing.T) {
	f := newFileFixture()

	op := testOp(t, models.OpImageUpload, "note-1")
	err := f.handler.Handle(context.Background(), op)

	if !apperrors.Is(err, apperrors.ErrSyncMalformedOp) {
		t.Errorf("error code = %v, want ErrSyncMalformedOp", apperrors.GetCode(err))
	}
	if len(f.api.uploads) != 0 {
		t.Errorf("uploads = %d, want 0", len(f.api.uploads))
	}
}

// TestFileUpload_missingAttachment verifies a vanished staged blob fails
// as malformed rather than retrying forever.
func TestFileUpload_missingAttachment(t *testing.T) {
	f := newFileFixture()

	op := testFileOp(t, models.OpImageUpload, "note-1", storage.Hash([]byte("gone")), "photo.png", "")
	err := f.handler.Handle(context.Background(), op)

	if !apperrors.Is(err, apperrors.ErrSyncMalformedOp) {
		t.Errorf("error code = %v, want ErrSyncMalformedOp", apperrors.GetCode(err))
	}
	if len(f.api.uploads) != 0 {
		t.Errorf("uploads = %d, want 0", len(f.api.uploads))
	}
}

// TestFileUpload_remoteError verifies transport failures pass through
// untouched for the queue to classify.
func TestFileUpload_remoteError(t *testing.T) {
	f := newFileFixture()
	hash := f.staging.put(pngBytes(t))
	f.api.uploadErr = apperrors.New(apperrors.ErrSyncNetwork, "connection reset")

	op := testFileOp(t, models.OpImageUpload, "note-1", hash, "photo.png", "")
	err := f.handler.Handle(context.Background(), op)

	if !apperrors.Is(err, apperrors.ErrSyncNetwork) {
		t.Errorf("error code = %v, want ErrSyncNetwork", apperrors.GetCode(err))
	}
}

// TestFileUpload_events verifies a finished upload announces itself.
func TestFileUpload_events(t *testing.T) {
	staging := newFakeStaging()
	api := &fakeFilesAPI{}
	notifier := &collectingNotifier{}
	handler := NewFileHandler(staging, api, newFakeMapper(), notifier)

	data := pngBytes(t)
	hash := staging.put(data)

	op := testFileOp(t, models.OpImageUpload, "note-1", hash, "photo.png", "")
	if err := handler.Handle(context.Background(), op); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	uploaded := notifier.byType(events.FileUploaded)
	if len(uploaded) != 1 {
		t.Fatalf("file.uploaded events = %d, want 1", len(uploaded))
	}
	if uploaded[0].EntityID != "note-1" {
		t.Errorf("event entity = %s, want note-1", uploaded[0].EntityID)
	}
	if uploaded[0].Data["file_id"] != "file-1" {
		t.Errorf("event file_id = %v, want file-1", uploaded[0].Data["file_id"])
	}
	if uploaded[0].Data["hash"] != hash {
		t.Errorf("event hash = %v, want %s", uploaded[0].Data["hash"], hash)
	}
	if uploaded[0].Data["content_type"] != "image/png" {
		t.Errorf("event content_type = %v, want image/png", uploaded[0].Data["content_type"])
	}
}

// TestFileHandler_unsupportedType verifies foreign operation types are
// refused.
func TestFileHandler_unsupportedType(t *testing.T) {
	f := newFileFixture()

	op := testOp(t, models.OpNoteCreate, "local-note-1")
	err := f.handler.Handle(context.Background(), op)

	if !apperrors.Is(err, apperrors.ErrSyncUnsupportedOp) {
		t.Errorf("error code = %v, want ErrSyncUnsupportedOp", apperrors.GetCode(err))
	}
}
