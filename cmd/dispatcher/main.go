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

// Command dispatcher is the process an external task executor invokes once
// per job (spec.md §1 Non-goals: the broker/task-runner framework itself is
// out of scope). It reads one JobSpec as JSON from stdin, reports status
// through the control plane, and runs it through the dispatch pipeline:
// resolve or build the image, ensure the scratch PVC, submit the job
// manifest, and monitor it until its pod is Running, Succeeded or Failed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/iiasa/wkube-core/internal/cmdutil"
	"github.com/iiasa/wkube-core/internal/config"
	"github.com/iiasa/wkube-core/internal/dispatch"
	"github.com/iiasa/wkube-core/internal/k8sclient"
	"github.com/iiasa/wkube-core/internal/logstream"
	"github.com/iiasa/wkube-core/internal/model"
	"github.com/iiasa/wkube-core/internal/taskentry"
)

func main() {
	jobID := flag.String("job-id", "", "job identifier (required)")
	token := flag.String("token", "", "job bearer token for the control plane (required)")
	poolWorkers := flag.Int("log-pool-workers", 0, "log-stream upload worker pool size (0 = package default)")
	debug := flag.Bool("debug", false, "enable human-readable debug logging")
	flag.Parse()

	log, flushLog, err := cmdutil.NewLogger(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dispatcher: build logger:", err)
		os.Exit(1)
	}
	defer flushLog()

	if *jobID == "" || *token == "" {
		log.Error(nil, "missing required flags", "job-id", *jobID)
		os.Exit(2)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error(err, "load config")
		os.Exit(1)
	}

	spec, err := readJobSpec(os.Stdin)
	if err != nil {
		log.Error(err, "read job spec from stdin")
		os.Exit(1)
	}

	handles, err := k8sclient.NewFromKubeconfigB64(cfg.KubeconfigBase64, cfg.ClusterNamespace)
	if err != nil {
		log.Error(err, "build cluster handles")
		os.Exit(1)
	}

	dispatcher := dispatch.New(handles.Client, dispatch.Config{
		Namespace:        cfg.ClusterNamespace,
		Registry:         cfg.RegistryURL,
		RegistryPrefix:   cfg.RegistryPrefix,
		RegistryUser:     cfg.RegistryUser,
		RegistryPassword: cfg.RegistryPassword,
		AgentImage:       cfg.AgentImage,
		ControlPlaneURL:  cfg.ControlPlaneBaseURL,
		StorageClass:     cfg.StorageClass,
		BuildRoot:        os.TempDir(),
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler := func(ctx context.Context, stream *logstream.Streamer) error {
		fmt.Fprintf(stream, "dispatching job %s\n", *jobID)
		return dispatcher.Dispatch(ctx, spec)
	}

	if err := taskentry.Run(ctx, cfg.ControlPlaneBaseURL, *token, *jobID, taskentry.ModeBuildAndLaunch, *poolWorkers, handler); err != nil {
		log.Error(err, "dispatch failed", "job-id", *jobID)
		os.Exit(1)
	}
}

func readJobSpec(r io.Reader) (model.JobSpec, error) {
	var spec model.JobSpec
	if err := json.NewDecoder(r).Decode(&spec); err != nil {
		return model.JobSpec{}, fmt.Errorf("decode job spec: %w", err)
	}
	return spec, nil
}
