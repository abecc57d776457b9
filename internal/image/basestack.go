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
	"embed"
	"fmt"

	"github.com/iiasa/wkube-core/internal/model"
)

//go:embed basestacks/*/Dockerfile
var baseStackTemplates embed.FS

// basestackDirs maps each curated base-stack identifier to its template
// directory name under basestacks/.
var basestackDirs = map[model.BaseStack]string{
	model.BaseStackPython37:  "python3_7",
	model.BaseStackR44:       "r4_4",
	model.BaseStackGAMS40R40: "gams40_1__r4_0",
}

// ResolveBaseStackDockerfile returns the contents of the predefined
// Dockerfile for a curated base stack (spec.md §4.1 step 4).
func ResolveBaseStackDockerfile(stack model.BaseStack) ([]byte, error) {
	dir, ok := basestackDirs[stack]
	if !ok {
		return nil, fmt.Errorf("image: unknown base stack %q", stack)
	}
	return baseStackTemplates.ReadFile("basestacks/" + dir + "/Dockerfile")
}
