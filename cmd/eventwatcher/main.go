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

// Command eventwatcher is the standalone long-running process from spec.md
// §4.7: it tails namespace events and fans each one out to the control
// plane's webhook through a bounded worker pool, reconnecting transparently
// on resource-version-expired errors.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/iiasa/wkube-core/internal/cmdutil"
	"github.com/iiasa/wkube-core/internal/config"
	"github.com/iiasa/wkube-core/internal/events"
	"github.com/iiasa/wkube-core/internal/k8sclient"
)

// webhookPath is appended to the control plane's base URL to form the full
// webhook endpoint; spec.md §6 names the payload shape and app-token header
// but not a path, so it is fixed here in the event watcher's entrypoint.
const webhookPath = "/webhooks/pod-events"

func main() {
	poolSize := flag.Int("pool-size", 0, "webhook delivery worker pool size (0 = package default)")
	debug := flag.Bool("debug", false, "enable human-readable debug logging")
	flag.Parse()

	log, flushLog, err := cmdutil.NewLogger(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "eventwatcher: build logger:", err)
		os.Exit(1)
	}
	defer flushLog()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error(err, "load config")
		os.Exit(1)
	}

	handles, err := k8sclient.NewFromKubeconfigB64(cfg.KubeconfigBase64, cfg.ClusterNamespace)
	if err != nil {
		log.Error(err, "build cluster handles")
		os.Exit(1)
	}

	watcher := events.New(handles.Clientset, cfg.ClusterNamespace, cfg.ControlPlaneBaseURL+webhookPath, cfg.AppToken, *poolSize, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := watcher.Run(ctx); err != nil && !apierrors.IsResourceExpired(err) {
		log.Error(err, "event watcher exited")
		os.Exit(1)
	}
}
