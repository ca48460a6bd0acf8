package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"vidtube-users/internal/account"
	"vidtube-users/internal/apperr"
	"vidtube-users/internal/observability"
)

type MediaUpdater interface {
	UpdateMedia(ctx context.Context, id string, field account.MediaField, url string) (account.Account, error)
}

// Coordinator pairs remote asset writes with account updates. Staged local
// files are removed on every exit path; remote deletes of replaced assets are
// best effort and only logged on failure.
//
// ReplaceAsset is not atomic: the old asset is deleted before the new one is
// uploaded, so a failed upload leaves the account pointing at a deleted
// asset. Concurrent replaces on one account resolve last writer wins.
type Coordinator struct {
	assets   AssetStore
	accounts MediaUpdater
	logger   *observability.Logger
	metrics  *observability.Metrics
}

func NewCoordinator(assets AssetStore, accounts MediaUpdater, logger *observability.Logger, metrics *observability.Metrics) *Coordinator {
	return &Coordinator{assets: assets, accounts: accounts, logger: logger, metrics: metrics}
}

// UploadAndAttach uploads a staged file. An empty path is a no-op and
// returns nil, nil.
func (c *Coordinator) UploadAndAttach(ctx context.Context, localPath string) (*Asset, error) {
	localPath = strings.TrimSpace(localPath)
	if localPath == "" {
		return nil, nil
	}
	defer c.removeLocal(localPath)

	asset, err := c.assets.Upload(ctx, localPath)
	if err != nil {
		c.metrics.ObserveAsset("upload", false)
		c.logger.Error("asset_upload_failed", map[string]any{"error": err})
		return nil, apperr.Upload("failed to upload file", err)
	}
	if asset.URL == "" {
		c.metrics.ObserveAsset("upload", false)
		return nil, apperr.Upload("asset store returned no url", nil)
	}

	c.metrics.ObserveAsset("upload", true)
	return &asset, nil
}

func (c *Coordinator) ReplaceAsset(ctx context.Context, acc account.Account, localPath string, field account.MediaField) (account.View, error) {
	localPath = strings.TrimSpace(localPath)
	if localPath == "" {
		return account.View{}, apperr.Validation(fmt.Sprintf("%s file is missing", field))
	}
	defer c.removeLocal(localPath)

	if !field.Valid() {
		return account.View{}, apperr.Validation(fmt.Sprintf("unknown media field %q", field))
	}

	if old := AssetFromURL(acc.MediaURL(field)); old.PublicID != "" {
		if err := c.assets.Delete(ctx, old); err != nil {
			c.metrics.ObserveAsset("delete", false)
			c.logger.Warn("asset_delete_failed", map[string]any{
				"account_id": acc.ID,
				"field":      string(field),
				"public_id":  old.PublicID,
				"error":      err,
			})
		} else {
			c.metrics.ObserveAsset("delete", true)
		}
	}

	asset, err := c.UploadAndAttach(ctx, localPath)
	if err != nil {
		return account.View{}, err
	}

	updated, err := c.accounts.UpdateMedia(ctx, acc.ID, field, asset.URL)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return account.View{}, apperr.NotFound("user not found")
		}
		return account.View{}, apperr.Internal("failed to update media", err)
	}
	return updated.View(), nil
}

// Discard removes an uploaded asset that will not be attached to any account.
func (c *Coordinator) Discard(ctx context.Context, asset *Asset) {
	if asset == nil || asset.PublicID == "" {
		return
	}
	if err := c.assets.Delete(ctx, *asset); err != nil {
		c.logger.Warn("asset_discard_failed", map[string]any{"public_id": asset.PublicID, "error": err})
	}
}

func (c *Coordinator) removeLocal(localPath string) {
	if err := os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("staged_file_remove_failed", map[string]any{"path": localPath, "error": err})
	}
}
