package dataset

import (
	"context"
	"encoding/json"
	"fmt"

	"gocloud.dev/blob"
)

// Delete removes a completed dataset: every part, then the manifest.
func Delete(ctx context.Context, bucket *blob.Bucket, dest string) error {
	manifest, err := readManifest(ctx, bucket, dest)
	if err != nil {
		return err
	}

	for _, part := range manifest.Parts {
		if part.Object == "" {
			continue
		}
		path := manifest.PartsPrefix + part.Object
		if err := bucket.Delete(ctx, path); err != nil && !isNotExist(err) {
			return fmt.Errorf("dataset: delete part %s: %w", path, err)
		}
	}

	// A run with failed segments leaves its state next to the manifest.
	if err := bucket.Delete(ctx, manifest.PartsPrefix+"state.json"); err != nil && !isNotExist(err) {
		return fmt.Errorf("dataset: delete state: %w", err)
	}

	if err := bucket.Delete(ctx, dest+".manifest.json"); err != nil {
		return fmt.Errorf("dataset: delete manifest: %w", err)
	}
	return nil
}

// DeletePartial removes an incomplete dataset using its state file. When
// there is no state but a manifest exists, it falls back to Delete.
func DeletePartial(ctx context.Context, bucket *blob.Bucket, dest string) error {
	partsPrefix := dest + ".parts/"
	statePath := partsPrefix + "state.json"

	data, err := bucket.ReadAll(ctx, statePath)
	if err != nil {
		if isNotExist(err) {
			if exists, _ := bucket.Exists(ctx, dest+".manifest.json"); exists {
				return Delete(ctx, bucket, dest)
			}
			return fmt.Errorf("dataset: no state or manifest found for %s", dest)
		}
		return fmt.Errorf("dataset: read state: %w", err)
	}

	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("dataset: unmarshal state: %w", err)
	}

	for _, part := range s.Parts {
		if part.Object != "" {
			path := s.PartsPrefix + part.Object
			if err := bucket.Delete(ctx, path); err != nil && !isNotExist(err) {
				return fmt.Errorf("dataset: delete part %s: %w", path, err)
			}
		}
	}

	if err := bucket.Delete(ctx, statePath); err != nil && !isNotExist(err) {
		return fmt.Errorf("dataset: delete state: %w", err)
	}
	// A run with failed segments has both state and a manifest.
	if err := bucket.Delete(ctx, dest+".manifest.json"); err != nil && !isNotExist(err) {
		return fmt.Errorf("dataset: delete manifest: %w", err)
	}
	return nil
}
