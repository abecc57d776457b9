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

// Package cmdutil holds the small amount of process-wiring shared by this
// module's cmd/ entrypoints: logger construction.
package cmdutil

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// NewLogger builds the logr.Logger every entrypoint passes down into its
// subsystems. By default it logs JSON at info level; debug=true (each
// command's -debug flag) switches to zap's human-readable development
// encoder at debug level.
func NewLogger(debug bool) (logr.Logger, func(), error) {
	var zcfg zap.Config
	if debug {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	z, err := zcfg.Build()
	if err != nil {
		return logr.Logger{}, func() {}, err
	}

	return zapr.NewLogger(z), func() { _ = z.Sync() }, nil
}
