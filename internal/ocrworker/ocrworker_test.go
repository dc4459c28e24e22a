package ocrworker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/nzhao20-glitch/filing-etl/internal/ocrqueue"
	"github.com/nzhao20-glitch/filing-etl/internal/providers"
	"github.com/nzhao20-glitch/filing-etl/internal/records"
)

// fakeQueue serves one batch of messages, then empties.
type fakeQueue struct {
	messages []sqstypes.Message
	received bool

	receiveInputs []*sqs.ReceiveMessageInput
	deleted       []string
}

func (f *fakeQueue) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.receiveInputs = append(f.receiveInputs, params)
	if f.received {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	f.received = true
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeQueue) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

type fakeStore struct {
	objects  map[string][]byte
	existing map[string]bool
	getErr   error

	existsChecks []string
	downloads    []string
	patches      map[string][]records.PageRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects:  make(map[string][]byte),
		existing: make(map[string]bool),
		patches:  make(map[string][]records.PageRecord),
	}
}

func (f *fakeStore) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	f.downloads = append(f.downloads, key)
	if f.getErr != nil {
		return nil, f.getErr
	}
	if data, ok := f.objects[key]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("no object %s/%s", bucket, key)
}

func (f *fakeStore) UploadJSONL(ctx context.Context, bucket, key string, recs []records.PageRecord) error {
	f.patches[key] = recs
	return nil
}

func (f *fakeStore) UploadJSON(ctx context.Context, bucket, key string, v any) error {
	return nil
}

func (f *fakeStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	f.existsChecks = append(f.existsChecks, key)
	return f.existing[key], nil
}

func message(body string) sqstypes.Message {
	return sqstypes.Message{
		Body:          aws.String(body),
		ReceiptHandle: aws.String("rh-1"),
	}
}

func jobBody(pages string) string {
	return `{"version":1,"exchange":"SZSE","source_id":"ann_001","s3_bucket":"raw",` +
		`"s3_key":"szse/ann_001.pdf","broken_pages":[` + pages + `],"submitted_at":"2023-04-28T09:15:00.000000Z","metadata":{}}`
}

func validJobBody() string {
	return jobBody("2,5")
}

// onePagePDF assembles a minimal single-page PDF with a hand-computed
// xref table.
func onePagePDF(text string) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(format string, args ...any) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, format, args...)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	obj("2 0 obj\n<< /Type /Pages /Kids [ 3 0 R ] /Count 1 >>\nendobj\n")
	obj("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 << /Type /Font /Subtype /Type1 /BaseFont /Helvetica >> >> >> >>\nendobj\n")
	content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
	obj("4 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", len(content), content)

	xref := buf.Len()
	buf.WriteString("xref\n0 5\n0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 5 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF", xref)
	return buf.Bytes()
}

// stubPdftoppm puts a fake poppler binary on PATH that writes the PNG the
// renderer expects.
func stubPdftoppm(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	script := "#!/bin/sh\nfor arg; do out=$arg; done\nprintf 'png-bytes' > \"$out.png\"\n"
	if err := os.WriteFile(filepath.Join(dir, "pdftoppm"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func newTestWorker(q *fakeQueue, store *fakeStore) *Worker {
	return New(Config{
		Queue:        q,
		QueueURL:     "https://sqs.test/q",
		Store:        store,
		OutputBucket: "out",
		OutputPrefix: "processed",
		Provider:     &providers.MockOCR{},
		RunOnce:      true,
		MaxMessages:  2,
		WaitSeconds:  20,
	})
}

func TestRunDrainsAndExitsInRunOnceMode(t *testing.T) {
	q := &fakeQueue{}
	if err := newTestWorker(q, newFakeStore()).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(q.receiveInputs) != 1 {
		t.Errorf("receive calls = %d, want 1", len(q.receiveInputs))
	}

	in := q.receiveInputs[0]
	if in.MaxNumberOfMessages != 2 || in.WaitTimeSeconds != 20 {
		t.Errorf("receive params = %+v", in)
	}
}

func TestRunUploadsPatchAndDeletesMessage(t *testing.T) {
	stubPdftoppm(t)

	q := &fakeQueue{messages: []sqstypes.Message{message(jobBody("1"))}}
	store := newFakeStore()
	store.objects["szse/ann_001.pdf"] = onePagePDF("scanned page")

	if err := newTestWorker(q, store).Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	patchKey := ocrqueue.PatchKey("processed", "SZSE", "ann_001", []int{1})
	patch, ok := store.patches[patchKey]
	if !ok {
		t.Fatalf("patch not uploaded, patches = %v", store.patches)
	}
	if len(patch) != 1 {
		t.Fatalf("patch has %d records, want 1", len(patch))
	}

	rec := patch[0]
	if rec.UniquePageID != "SZSE_ann_001_pg1" || rec.PageNumber != 1 || rec.TotalPages != 1 {
		t.Errorf("record = %+v", rec)
	}
	if !rec.OCRRequired {
		t.Error("patch record must carry ocr_required=true")
	}
	if rec.Text != "ocr text page 1" {
		t.Errorf("text = %q", rec.Text)
	}
	if len(q.deleted) != 1 {
		t.Errorf("deleted = %v, want the handled message removed", q.deleted)
	}
}

func TestRunLeavesInvalidMessages(t *testing.T) {
	q := &fakeQueue{messages: []sqstypes.Message{message(`{"not": "a job"}`)}}
	store := newFakeStore()

	if err := newTestWorker(q, store).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Malformed messages are never deleted here; the redrive policy owns
	// them.
	if len(q.deleted) != 0 {
		t.Errorf("deleted = %v", q.deleted)
	}
	if len(store.downloads) != 0 {
		t.Errorf("downloads = %v", store.downloads)
	}
}

func TestRunSkipsExistingPatch(t *testing.T) {
	q := &fakeQueue{messages: []sqstypes.Message{message(validJobBody())}}
	store := newFakeStore()
	// Patch for pages [2,5] already landed on a previous delivery.
	store.existing[ocrqueue.PatchKey("processed", "SZSE", "ann_001", []int{2, 5})] = true

	w := newTestWorker(q, store)
	if err := w.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(store.existsChecks) != 1 {
		t.Fatalf("exists checks = %v", store.existsChecks)
	}
	if len(store.downloads) != 0 {
		t.Errorf("downloads = %v, want none for existing patch", store.downloads)
	}
	if len(q.deleted) != 1 {
		t.Errorf("deleted = %v, want redelivered duplicate removed", q.deleted)
	}
}

func TestRunLeavesMessageOnFailure(t *testing.T) {
	q := &fakeQueue{messages: []sqstypes.Message{message(validJobBody())}}
	store := newFakeStore()
	store.getErr = errors.New("s3 unavailable")

	if err := newTestWorker(q, store).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Download failed, so the message must stay for redelivery.
	if len(q.deleted) != 0 {
		t.Errorf("deleted = %v, want none", q.deleted)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := &fakeQueue{messages: []sqstypes.Message{message(validJobBody())}}
	w := New(Config{
		Queue:        q,
		QueueURL:     "https://sqs.test/q",
		Store:        newFakeStore(),
		OutputBucket: "out",
	})
	if err := w.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if len(q.receiveInputs) != 0 {
		t.Errorf("receive calls after cancel = %d", len(q.receiveInputs))
	}
}
