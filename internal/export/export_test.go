package export

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"normative/api/internal/budget"
	"normative/api/internal/norm"
	"normative/api/internal/persist"
	"normative/api/internal/store"
)

type fakeDataStore struct {
	items []store.ExportedDocument
	err   error
}

func (f *fakeDataStore) ExportDocuments(context.Context) ([]store.ExportedDocument, error) {
	return f.items, f.err
}

type fakeArchiver struct {
	object      string
	data        []byte
	contentType string
	err         error
}

func (f *fakeArchiver) Put(_ context.Context, object string, data []byte, contentType string) (string, error) {
	f.object = object
	f.data = data
	f.contentType = contentType
	return "datasets", f.err
}

func sampleStore() *fakeDataStore {
	comment := "повреждение"
	return &fakeDataStore{items: []store.ExportedDocument{{
		Document: store.Document{
			ID:                    4,
			Username:              "annotator",
			Title:                 "Статья 167",
			Text:                  "Умышленные уничтожение или повреждение чужого имущества",
			NPA:                   "UK",
			Status:                norm.StatusChecked,
			LawType:               norm.LawTypeBan,
			DominantJustification: norm.JustificationCare,
			Points:                budget.Points{norm.JustificationCare: 6, norm.JustificationFair: 4},
		},
		Annotations: []persist.AnnotationRecord{{
			ID:               "a1",
			DocumentID:       4,
			Start:            24,
			End:              35,
			OrigText:         "повреждение",
			Comment:          &comment,
			LawType:          norm.LawTypeBan,
			LawJustification: norm.JustificationUnchecked,
			Raw:              json.RawMessage(`{"id":"a1"}`),
		}},
	}}}
}

func TestSnapshotFlattensDocuments(t *testing.T) {
	svc := NewService(sampleStore(), nil, nil)
	docs, err := svc.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	doc := docs[0]
	if doc.CarePoints != 6 || doc.FairPoints != 4 || doc.AuthPoints != 0 {
		t.Fatalf("unexpected points %+v", doc)
	}
	if len(doc.Annotations) != 1 || doc.Annotations[0].Document != 4 {
		t.Fatalf("unexpected annotations %+v", doc.Annotations)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"CARE_points":6`, `"NPA":"UK"`, `"orig_text":"повреждение"`} {
		if !strings.Contains(string(raw), key) {
			t.Fatalf("expected %s in %s", key, raw)
		}
	}
	if strings.Contains(string(raw), "json_data") {
		t.Fatalf("raw toolkit object must not be exported: %s", raw)
	}
}

func TestSnapshotPropagatesStoreError(t *testing.T) {
	svc := NewService(&fakeDataStore{err: errors.New("db down")}, nil, nil)
	if _, err := svc.Snapshot(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestArchiveUploadsTimestampedObject(t *testing.T) {
	archiver := &fakeArchiver{}
	svc := NewService(sampleStore(), archiver, nil)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }

	result, err := svc.Archive(context.Background())
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if result.Object != "exports/dataset-20240301T123000Z.json" || archiver.object != result.Object {
		t.Fatalf("unexpected object %q / %q", result.Object, archiver.object)
	}
	if result.Bucket != "datasets" || result.Documents != 1 || result.Size != int64(len(archiver.data)) {
		t.Fatalf("unexpected result %+v", result)
	}
	if archiver.contentType != "application/json" {
		t.Fatalf("content type = %q", archiver.contentType)
	}

	var decoded []Document
	if err := json.Unmarshal(archiver.data, &decoded); err != nil || len(decoded) != 1 {
		t.Fatalf("archived payload is not the snapshot: %v", err)
	}
}

func TestArchiveDisabledWithoutArchiver(t *testing.T) {
	svc := NewService(sampleStore(), nil, nil)
	if _, err := svc.Archive(context.Background()); !errors.Is(err, ErrArchiveDisabled) {
		t.Fatalf("expected ErrArchiveDisabled, got %v", err)
	}
}

func TestArchiveReportsUploadFailure(t *testing.T) {
	svc := NewService(sampleStore(), &fakeArchiver{err: errors.New("access denied")}, nil)
	if _, err := svc.Archive(context.Background()); err == nil {
		t.Fatal("expected upload error")
	}
}

func TestMinioArchiverIntegration(t *testing.T) {
	endpoint := strings.TrimSpace(os.Getenv("NORMATIVE_TEST_MINIO_ENDPOINT"))
	if endpoint == "" {
		t.Skip("NORMATIVE_TEST_MINIO_ENDPOINT is not set")
	}
	archiver, err := NewMinioArchiver(endpoint, os.Getenv("NORMATIVE_TEST_MINIO_ACCESS_KEY"), os.Getenv("NORMATIVE_TEST_MINIO_SECRET_KEY"), "normative-test", false)
	if err != nil {
		t.Fatalf("NewMinioArchiver() error = %v", err)
	}
	bucket, err := archiver.Put(context.Background(), "exports/test.json", []byte(`[]`), "application/json")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if bucket != "normative-test" {
		t.Fatalf("bucket = %q", bucket)
	}
}
