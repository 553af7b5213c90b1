package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"skygen/internal/docstore"
	"skygen/internal/domain"
)

// CollectionSkyboxes is the durable collection generation records land in.
const CollectionSkyboxes = "skyboxes"

const titleMaxLen = 48

// Reconciler merges completed branch results into durable records. Every
// write here is best-effort: persistence and verification problems degrade to
// warnings, never to a failed generation.
type Reconciler struct {
	Docs   docstore.Store
	Clock  Clock
	Logger zerolog.Logger
}

// RecordEnvironment upserts the generation record keyed by the first job's
// external id, then re-reads it and verifies the owner and creation
// timestamp. It returns the record id and any warnings.
func (r *Reconciler) RecordEnvironment(ctx context.Context, sess *domain.GenerationSession, results []domain.EnvironmentResult) (string, []string) {
	if len(results) == 0 {
		return "", nil
	}
	docID := results[0].JobID

	variations := make([]map[string]any, 0, len(results))
	for i := range results {
		results[i].Title = VariationTitle(sess.Prompt, i, len(results))
		variations = append(variations, map[string]any{
			"job_id": results[i].JobID,
			"url":    results[i].URL,
			"title":  results[i].Title,
		})
	}

	fields := docstore.Fields{
		"user_id":         sess.UserID,
		"prompt":          sess.Prompt,
		"negative_prompt": sess.NegativePrompt,
		"style_id":        sess.StyleID,
		"num_variations":  len(results),
		"variations":      variations,
		"status":          "completed",
		"created_at":      r.Clock.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}

	var warnings []string
	if err := r.Docs.Upsert(ctx, CollectionSkyboxes, docID, fields, true); err != nil {
		r.Logger.Warn().Err(err).Str("doc_id", docID).Msg("reconciler: generation record write failed")
		return docID, append(warnings, fmt.Sprintf("generation record could not be saved: %v", err))
	}

	if verr := r.verify(ctx, docID, sess.UserID); verr != nil {
		warnings = append(warnings, verr.Error())
	}
	return docID, warnings
}

// verify re-reads the record and checks the key fields survived the write.
// A mismatch is a warning: the generation itself still succeeded.
func (r *Reconciler) verify(ctx context.Context, docID, userID string) *domain.VerificationError {
	got, err := r.Docs.Get(ctx, CollectionSkyboxes, docID)
	if err != nil {
		r.Logger.Warn().Err(err).Str("doc_id", docID).Msg("reconciler: verification read failed")
		return &domain.VerificationError{DocID: docID, Reason: fmt.Sprintf("read back failed: %v", err)}
	}
	owner, _ := got["user_id"].(string)
	if owner != userID {
		r.Logger.Warn().Str("doc_id", docID).Str("owner", owner).Msg("reconciler: record owner mismatch")
		return &domain.VerificationError{DocID: docID, Reason: "owner mismatch"}
	}
	if created, ok := got["created_at"]; !ok || created == "" {
		r.Logger.Warn().Str("doc_id", docID).Msg("reconciler: record missing creation timestamp")
		return &domain.VerificationError{DocID: docID, Reason: "missing creation timestamp"}
	}
	return nil
}

// RecordAsset links a completed 3D asset onto the generation record with a
// second merge write. Asset failures never reach this method; only the
// transient session state reflects them.
func (r *Reconciler) RecordAsset(ctx context.Context, docID string, generated *domain.GeneratedAsset) []string {
	if docID == "" || generated == nil {
		return nil
	}
	url := AssetURL(generated)
	assetFields := map[string]any{
		"id":     generated.ID,
		"url":    url,
		"format": generated.Format,
		"status": generated.Status,
	}
	if grounding, ok := generated.Metadata["grounding"]; ok {
		assetFields["grounding"] = grounding
	}
	update := docstore.Fields{
		"asset":           assetFields,
		"asset_linked_at": r.Clock.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if err := r.Docs.Upsert(ctx, CollectionSkyboxes, docID, update, true); err != nil {
		r.Logger.Warn().Err(err).Str("doc_id", docID).Msg("reconciler: asset link write failed")
		return []string{fmt.Sprintf("asset link could not be saved: %v", err)}
	}
	return nil
}

// AssetURL extracts the usable download URL, preferring the direct field and
// falling back to the per-format map, then the preview.
func AssetURL(generated *domain.GeneratedAsset) string {
	if generated == nil {
		return ""
	}
	if generated.DownloadURL != "" {
		return generated.DownloadURL
	}
	for _, format := range []string{"glb", "gltf", "usdz", "fbx", "obj"} {
		if url, ok := generated.FormatURLs[format]; ok && url != "" {
			return url
		}
	}
	for _, url := range generated.FormatURLs {
		if url != "" {
			return url
		}
	}
	return generated.PreviewURL
}

// VariationTitle derives a short display title for one variation from the
// prompt.
func VariationTitle(prompt string, index, total int) string {
	trimmed := strings.TrimSpace(prompt)
	if len(trimmed) > titleMaxLen {
		trimmed = strings.TrimSpace(trimmed[:titleMaxLen])
	}
	title := cases.Title(language.Und).String(trimmed)
	if title == "" {
		title = "Skybox"
	}
	if total <= 1 {
		return title
	}
	return fmt.Sprintf("%s (Variation %d)", title, index+1)
}
