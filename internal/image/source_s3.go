/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package image

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig carries the connection details for the configured
// object-store endpoint (spec.md §6: WKUBE_OBJECT_STORE_*).
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// FetchObjectStoreSource downloads the archive named by objectStoreURL
// (bucket/key form, e.g. "my-bucket/jobs/src.zip") into workDir, verifies it
// is a zip, extracts it in place, then deletes the downloaded archive
// (spec.md §4.1 step 3).
func FetchObjectStoreSource(ctx context.Context, cfg ObjectStoreConfig, objectStoreURL, workDir string) error {
	bucket, key, err := splitBucketKey(objectStoreURL)
	if err != nil {
		return fmt.Errorf("image: %w", err)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("image: build object-store client: %w", err)
	}

	archivePath := filepath.Join(workDir, filepath.Base(key))
	if err := client.FGetObject(ctx, bucket, key, archivePath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("image: fetch object %s/%s: %w", bucket, key, err)
	}
	defer os.Remove(archivePath)

	if err := extractZip(archivePath, workDir); err != nil {
		return fmt.Errorf("image: extract archive: %w", err)
	}

	return nil
}

func splitBucketKey(objectStoreURL string) (bucket, key string, err error) {
	trimmed := objectStoreURL
	for _, scheme := range []string{"s3://", "minio://"} {
		trimmed = strings.TrimPrefix(trimmed, scheme)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed object-store url %q: want bucket/key", objectStoreURL)
	}
	return parts[0], parts[1], nil
}

// extractZip verifies the file at archivePath is a valid zip archive and
// extracts its contents under destDir.
func extractZip(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("not a valid zip archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		targetPath := filepath.Join(destDir, f.Name)
		if !strings.HasPrefix(targetPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("zip entry escapes destination: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return err
		}

		rc, err := f.Open()
		if err != nil {
			return err
		}

		out, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
		if err != nil {
			rc.Close()
			return err
		}

		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			return copyErr
		}
	}

	return nil
}
