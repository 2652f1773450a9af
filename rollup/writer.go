// ABOUTME: Idempotent upsert and delete of contacts against the target account
// ABOUTME: Stamps rollup tags, falls back to the alternate body shape, retries transient failures
package rollup

import (
	"context"
	"strings"

	"github.com/harperreed/rollupsync/models"
)

// TargetWriter writes prepared contacts to the target account.
type TargetWriter struct {
	api       TargetAPI
	policy    RetryPolicy
	markerTag string
	maxTags   int
}

// NewTargetWriter creates a writer for api using the given retry policy.
func NewTargetWriter(api TargetAPI, policy RetryPolicy, limits Limits) *TargetWriter {
	limits = limits.Clamp()
	return &TargetWriter{
		api:       api,
		policy:    policy,
		markerTag: limits.MarkerTag,
		maxTags:   limits.MaxTags,
	}
}

// BuildUpsertRequest turns a prepared contact into the outbound write,
// stamping the marker tag and one source tag per contributing account.
func (w *TargetWriter) BuildUpsertRequest(pc models.PreparedContact) models.UpsertRequest {
	rollupTags := make([]string, 0, len(pc.SourceAccountKeys)+1)
	rollupTags = append(rollupTags, w.markerTag)
	for _, key := range pc.SourceAccountKeys {
		rollupTags = append(rollupTags, SourceTagPrefix+key)
	}

	return models.UpsertRequest{
		FirstName: pc.FirstName,
		LastName:  pc.LastName,
		Name:      pc.Name,
		Email:     pc.Email,
		Phone:     pc.Phone,
		Tags:      capTags(unionFold(rollupTags, pc.Tags), w.maxTags),
	}
}

// Upsert writes one contact. The primary body shape is tried first; the
// alternate shape is only tried when the provider rejects the primary.
func (w *TargetWriter) Upsert(ctx context.Context, pc models.PreparedContact) error {
	req := w.BuildUpsertRequest(pc)

	var err error
	for _, shape := range []models.BodyShape{models.BodyShapeFlat, models.BodyShapeWrapped} {
		err = w.policy.Do(ctx, func(ctx context.Context) error {
			return w.api.UpsertContact(ctx, req, shape)
		})
		if err == nil {
			return nil
		}
		if !IsRejected(err) {
			break
		}
	}
	return &WriteError{Op: "upsert", Key: pc.DedupeKey, Err: err}
}

// Delete removes one contact. A contact that is already gone counts as deleted.
func (w *TargetWriter) Delete(ctx context.Context, id string) error {
	err := w.policy.Do(ctx, func(ctx context.Context) error {
		return w.api.DeleteContact(ctx, id)
	})
	if err == nil || IsNotFound(err) {
		return nil
	}
	return &WriteError{Op: "delete", Key: id, Err: err}
}

// unionFold unions tag lists, treating tags that differ only by case as equal.
func unionFold(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, tag := range list {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			folded := strings.ToLower(tag)
			if _, ok := seen[folded]; ok {
				continue
			}
			seen[folded] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}

func capTags(tags []string, limit int) []string {
	if limit > 0 && len(tags) > limit {
		return tags[:limit]
	}
	return tags
}
