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

// Command periodic runs the two fixed-schedule cluster reconciliation loops
// from spec.md §4.6: the orphan-PVC sweep and the stalled-job sweep. Both
// run concurrently for the lifetime of the process and stop on SIGTERM/SIGINT.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/iiasa/wkube-core/internal/cmdutil"
	"github.com/iiasa/wkube-core/internal/config"
	"github.com/iiasa/wkube-core/internal/controlplane"
	"github.com/iiasa/wkube-core/internal/k8sclient"
	"github.com/iiasa/wkube-core/internal/periodic"
)

func main() {
	debug := flag.Bool("debug", false, "enable human-readable debug logging")
	flag.Parse()

	log, flushLog, err := cmdutil.NewLogger(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "periodic: build logger:", err)
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

	cp := controlplane.New(cfg.ControlPlaneBaseURL, cfg.AppToken)

	orphans := periodic.NewOrphanSweeper(handles.Client, cfg.ClusterNamespace, cp, log)
	stalled := periodic.NewStalledJobSweeper(cp, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); orphans.Run(ctx) }()
	go func() { defer wg.Done(); stalled.Run(ctx) }()
	wg.Wait()
}
