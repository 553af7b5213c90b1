package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"skygen/internal/docstore"
	"skygen/internal/domain"
)

// stubDocs wraps a memory store with scripted failures and read overrides.
type stubDocs struct {
	inner     *docstore.MemoryStore
	upsertErr error
	getFields docstore.Fields
	getErr    error
}

func (s *stubDocs) Upsert(ctx context.Context, collection, id string, fields docstore.Fields, merge bool) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.inner.Upsert(ctx, collection, id, fields, merge)
}

func (s *stubDocs) Get(ctx context.Context, collection, id string) (docstore.Fields, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.getFields != nil {
		return s.getFields, nil
	}
	return s.inner.Get(ctx, collection, id)
}

func newTestReconciler(docs docstore.Store) *Reconciler {
	return &Reconciler{Docs: docs, Clock: newFakeClock(), Logger: zerolog.Nop()}
}

func envResults(n int) []domain.EnvironmentResult {
	out := make([]domain.EnvironmentResult, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.EnvironmentResult{
			JobID: "env-" + string(rune('1'+i)),
			URL:   "https://cdn.example.com/env-" + string(rune('1'+i)) + ".png",
		})
	}
	return out
}

func TestRecordEnvironmentWritesAndVerifies(t *testing.T) {
	docs := docstore.NewMemoryStore()
	r := newTestReconciler(docs)
	sess := newSession(2)

	docID, warnings := r.RecordEnvironment(context.Background(), sess, envResults(2))
	if docID != "env-1" {
		t.Fatalf("docID = %q, want env-1", docID)
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v", warnings)
	}

	got, err := docs.Get(context.Background(), CollectionSkyboxes, docID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["user_id"] != "user-1" || got["status"] != "completed" {
		t.Fatalf("record = %+v", got)
	}
	if created, _ := got["created_at"].(string); created == "" {
		t.Fatalf("created_at missing: %+v", got)
	}
	variations, ok := got["variations"].([]map[string]any)
	if !ok || len(variations) != 2 {
		t.Fatalf("variations = %+v", got["variations"])
	}
	if variations[0]["title"] != "Desert Oasis At Golden Hour (Variation 1)" {
		t.Fatalf("title = %q", variations[0]["title"])
	}
}

func TestRecordEnvironmentUpsertFailureIsWarning(t *testing.T) {
	docs := &stubDocs{inner: docstore.NewMemoryStore(), upsertErr: errors.New("store offline")}
	r := newTestReconciler(docs)

	docID, warnings := r.RecordEnvironment(context.Background(), newSession(1), envResults(1))
	if docID != "env-1" {
		t.Fatalf("docID = %q", docID)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "could not be saved") {
		t.Fatalf("warnings = %v", warnings)
	}
}

func TestRecordEnvironmentOwnerMismatchIsWarning(t *testing.T) {
	docs := &stubDocs{
		inner:     docstore.NewMemoryStore(),
		getFields: docstore.Fields{"user_id": "someone-else", "created_at": "2025-06-01T12:00:00.000Z"},
	}
	r := newTestReconciler(docs)

	_, warnings := r.RecordEnvironment(context.Background(), newSession(1), envResults(1))
	if len(warnings) != 1 || !strings.Contains(warnings[0], "owner mismatch") {
		t.Fatalf("warnings = %v", warnings)
	}
}

func TestRecordEnvironmentMissingTimestampIsWarning(t *testing.T) {
	docs := &stubDocs{
		inner:     docstore.NewMemoryStore(),
		getFields: docstore.Fields{"user_id": "user-1"},
	}
	r := newTestReconciler(docs)

	_, warnings := r.RecordEnvironment(context.Background(), newSession(1), envResults(1))
	if len(warnings) != 1 || !strings.Contains(warnings[0], "missing creation timestamp") {
		t.Fatalf("warnings = %v", warnings)
	}
}

func TestVerifyReturnsTypedError(t *testing.T) {
	docs := &stubDocs{
		inner:     docstore.NewMemoryStore(),
		getFields: docstore.Fields{"user_id": "someone-else", "created_at": "2025-06-01T12:00:00.000Z"},
	}
	r := newTestReconciler(docs)

	var verr *domain.VerificationError
	err := r.verify(context.Background(), "env-1", "user-1")
	if !errors.As(error(err), &verr) {
		t.Fatalf("verify returned %T, want *domain.VerificationError", err)
	}
	if verr.DocID != "env-1" || verr.Reason != "owner mismatch" {
		t.Fatalf("verification error = %+v", verr)
	}

	docs.getFields = nil
	docs.getErr = errors.New("store offline")
	if err := r.verify(context.Background(), "env-1", "user-1"); err == nil || !strings.Contains(err.Reason, "read back failed") {
		t.Fatalf("verification error = %+v", err)
	}
}

func TestRecordEnvironmentNoResults(t *testing.T) {
	r := newTestReconciler(docstore.NewMemoryStore())
	docID, warnings := r.RecordEnvironment(context.Background(), newSession(1), nil)
	if docID != "" || warnings != nil {
		t.Fatalf("got %q / %v, want empty", docID, warnings)
	}
}

func TestRecordAssetMergesOntoRecord(t *testing.T) {
	docs := docstore.NewMemoryStore()
	r := newTestReconciler(docs)
	sess := newSession(1)

	docID, _ := r.RecordEnvironment(context.Background(), sess, envResults(1))
	generated := &domain.GeneratedAsset{
		ID:         "asset-1",
		FormatURLs: map[string]string{"obj": "https://cdn.example.com/a.obj", "glb": "https://cdn.example.com/a.glb"},
		Format:     "glb",
		Status:     "completed",
		Metadata:   map[string]any{"grounding": map[string]any{"x": 0.5}},
	}
	warnings := r.RecordAsset(context.Background(), docID, generated)
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v", warnings)
	}

	got, err := docs.Get(context.Background(), CollectionSkyboxes, docID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// Merge write: the environment fields must survive the asset link.
	if got["user_id"] != "user-1" {
		t.Fatalf("environment fields lost: %+v", got)
	}
	assetFields, ok := got["asset"].(map[string]any)
	if !ok {
		t.Fatalf("asset field = %+v", got["asset"])
	}
	if assetFields["url"] != "https://cdn.example.com/a.glb" {
		t.Fatalf("asset url = %q, want the glb fallback", assetFields["url"])
	}
	if _, ok := assetFields["grounding"]; !ok {
		t.Fatalf("grounding metadata not carried: %+v", assetFields)
	}
	if linked, _ := got["asset_linked_at"].(string); linked == "" {
		t.Fatalf("asset_linked_at missing: %+v", got)
	}
}

func TestAssetURLPreference(t *testing.T) {
	direct := &domain.GeneratedAsset{
		DownloadURL: "https://cdn.example.com/direct.glb",
		FormatURLs:  map[string]string{"glb": "https://cdn.example.com/map.glb"},
	}
	if got := AssetURL(direct); got != "https://cdn.example.com/direct.glb" {
		t.Fatalf("direct url = %q", got)
	}

	formats := &domain.GeneratedAsset{FormatURLs: map[string]string{
		"obj":  "https://cdn.example.com/a.obj",
		"usdz": "https://cdn.example.com/a.usdz",
	}}
	if got := AssetURL(formats); got != "https://cdn.example.com/a.usdz" {
		t.Fatalf("format fallback = %q, want usdz before obj", got)
	}

	preview := &domain.GeneratedAsset{PreviewURL: "https://cdn.example.com/preview.png"}
	if got := AssetURL(preview); got != "https://cdn.example.com/preview.png" {
		t.Fatalf("preview fallback = %q", got)
	}

	if got := AssetURL(nil); got != "" {
		t.Fatalf("nil asset url = %q", got)
	}
}

func TestVariationTitle(t *testing.T) {
	if got := VariationTitle("desert oasis", 0, 1); got != "Desert Oasis" {
		t.Fatalf("single title = %q", got)
	}
	if got := VariationTitle("desert oasis", 1, 3); got != "Desert Oasis (Variation 2)" {
		t.Fatalf("multi title = %q", got)
	}
	if got := VariationTitle("   ", 0, 1); got != "Skybox" {
		t.Fatalf("empty prompt title = %q", got)
	}
	long := strings.Repeat("a very long prompt ", 10)
	if got := VariationTitle(long, 0, 1); len(got) > titleMaxLen {
		t.Fatalf("title not truncated: %q (%d)", got, len(got))
	}
}
