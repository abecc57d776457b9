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

package periodic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iiasa/wkube-core/internal/controlplane"
)

func TestRunOnce_SuccessCallsUpdateStalledEndpoint(t *testing.T) {
	var hit bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = r.URL.Path == "/jobs/update-stalled-status"
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewStalledJobSweeper(controlplane.New(srv.URL, "tok"), logr.Discard())
	require.NoError(t, s.RunOnce(context.Background()))
	assert.True(t, hit)
}

func TestRunOnce_SurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewStalledJobSweeper(controlplane.New(srv.URL, "tok"), logr.Discard())
	require.Error(t, s.RunOnce(context.Background()))
}
