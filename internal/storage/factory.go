package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/leafcutter/leafcutter/internal/storage/local"
	s3backend "github.com/leafcutter/leafcutter/internal/storage/s3"
	"github.com/leafcutter/leafcutter/pkg/tree"
)

// Open creates a Backend for a target locator: "s3://bucket/prefix" opens an
// S3 backend using s3cfg for endpoint and credentials, anything else is a
// local directory that is created on demand.
func Open(ctx context.Context, target string, s3cfg s3backend.BackendConfig) (Backend, error) {
	if tree.Scheme(target) == "s3" {
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("parse target %q: %w", target, err)
		}
		s3cfg.Bucket = u.Host
		s3cfg.Prefix = strings.Trim(u.Path, "/")
		return s3backend.NewBackend(ctx, s3cfg)
	}
	if tree.IsRemote(target) {
		return nil, fmt.Errorf("unsupported target scheme: %s", target)
	}
	return local.New(local.Config{RootPath: tree.LocalPath(target), CreateDirs: true})
}
