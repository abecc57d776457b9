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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iiasa/wkube-core/internal/model"
)

func TestResolveBaseStackDockerfile_KnownStacks(t *testing.T) {
	for _, stack := range []model.BaseStack{model.BaseStackPython37, model.BaseStackR44, model.BaseStackGAMS40R40} {
		b, err := ResolveBaseStackDockerfile(stack)
		assert.NoError(t, err, stack)
		assert.Contains(t, string(b), "FROM", stack)
	}
}

func TestResolveBaseStackDockerfile_UnknownStackErrors(t *testing.T) {
	_, err := ResolveBaseStackDockerfile(model.BaseStack("NOT_A_STACK"))
	assert.ErrorContains(t, err, "unknown base stack")
}
