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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitBucketKey(t *testing.T) {
	bucket, key, err := splitBucketKey("my-bucket/jobs/src.zip")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "jobs/src.zip", key)

	bucket, key, err = splitBucketKey("s3://my-bucket/jobs/src.zip")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "jobs/src.zip", key)

	_, _, err = splitBucketKey("not-a-valid-url")
	assert.Error(t, err)
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "src.zip")

	f, err := os.Create(archivePath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("Dockerfile")
	require.NoError(t, err)
	_, err = w.Write([]byte("FROM scratch\n"))
	require.NoError(t, err)
	w, err = zw.Create("nested/app.py")
	require.NoError(t, err)
	_, err = w.Write([]byte("print('hi')\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	destDir := t.TempDir()
	require.NoError(t, extractZip(archivePath, destDir))

	assert.FileExists(t, filepath.Join(destDir, "Dockerfile"))
	assert.FileExists(t, filepath.Join(destDir, "nested", "app.py"))
}

func TestExtractZip_RejectsNonZip(t *testing.T) {
	dir := t.TempDir()
	notZip := filepath.Join(dir, "notzip.bin")
	require.NoError(t, os.WriteFile(notZip, []byte("plain text"), 0o644))

	err := extractZip(notZip, t.TempDir())
	assert.Error(t, err)
}
