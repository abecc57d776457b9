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

package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corev1 "k8s.io/api/core/v1"

	"github.com/iiasa/wkube-core/internal/model"
)

func baseParams() ManifestParams {
	return ManifestParams{
		JobSpec: model.JobSpec{
			JobID:   "job-1",
			JobName: "job-1",
			Token:   "tok",
			PVCID:   "pvc-1",
			Command: `echo "hi"`,
			Resources: model.ResourceRequest{
				Memory:           "512Mi",
				CPU:              "500m",
				EphemeralStorage: "1Gi",
				TimeoutSec:       3600,
			},
			Config:  map[string]string{"B": "2", "A": "1"},
			Secrets: map[string]string{"Z": "9"},
		},
		Image:            "registry.example/acc/img:abc1234",
		AgentImage:       "https://agent.example/agent",
		ControlPlaneURL:  "https://cp.example",
		ImagePullSecrets: []string{"registry-credentials"},
	}
}

func TestBuildJob_TopLevelFields(t *testing.T) {
	job := BuildJob(baseParams())

	require.NotNil(t, job.Spec.BackoffLimit)
	assert.Equal(t, int32(0), *job.Spec.BackoffLimit)
	require.NotNil(t, job.Spec.ActiveDeadlineSeconds)
	assert.Equal(t, int64(3600), *job.Spec.ActiveDeadlineSeconds)
	require.NotNil(t, job.Spec.TTLSecondsAfterFinished)
	assert.Equal(t, int32(0), *job.Spec.TTLSecondsAfterFinished)
	assert.Equal(t, "pvc-1", job.Labels["pvc_id"])
	assert.Equal(t, "job-1", job.Spec.Template.Labels["app"])
	assert.Equal(t, corev1.RestartPolicyNever, job.Spec.Template.Spec.RestartPolicy)
}

func TestBuildJob_EnvOrdering(t *testing.T) {
	job := BuildJob(baseParams())
	main := job.Spec.Template.Spec.Containers[0]

	names := make([]string, len(main.Env))
	for i, e := range main.Env {
		names[i] = e.Name
	}
	assert.Equal(t, []string{"JOB_ID", "ACC_JOB_TOKEN", "ACC_JOB_GATEWAY_SERVER", "A", "B", "Z"}, names)
}

func TestBuildJob_ShellEscapesUserCommand(t *testing.T) {
	params := baseParams()
	params.JobSpec.Command = `say "hello"`
	job := BuildJob(params)
	main := job.Spec.Template.Spec.Containers[0]
	assert.Contains(t, main.Args[0], `say \"hello\"`)
}

func TestBuildJob_NodeAffinityWhenPinned(t *testing.T) {
	params := baseParams()
	params.ResolvedNodeName = "node-7"
	job := BuildJob(params)

	require.NotNil(t, job.Spec.Template.Spec.Affinity)
	terms := job.Spec.Template.Spec.Affinity.NodeAffinity.RequiredDuringSchedulingIgnoredDuringExecution.NodeSelectorTerms
	require.Len(t, terms, 1)
	assert.Equal(t, []string{"node-7"}, terms[0].MatchExpressions[0].Values)
}

func TestBuildJob_NoAffinityWhenUnpinned(t *testing.T) {
	job := BuildJob(baseParams())
	assert.Nil(t, job.Spec.Template.Spec.Affinity)
}

func TestBuildJob_MountsPVCAndAgentVolumes(t *testing.T) {
	job := BuildJob(baseParams())
	main := job.Spec.Template.Spec.Containers[0]

	mountPaths := make(map[string]string)
	for _, vm := range main.VolumeMounts {
		mountPaths[vm.Name] = vm.MountPath
	}
	assert.Equal(t, "/mnt/data", mountPaths[dataVolumeName])
	assert.Equal(t, "/mnt/agent", mountPaths[agentVolumeName])

	pvcVolume := job.Spec.Template.Spec.Volumes[1]
	assert.Equal(t, "pvc-1", pvcVolume.PersistentVolumeClaim.ClaimName)
}

func TestBuildJob_ImagePullSecrets(t *testing.T) {
	job := BuildJob(baseParams())
	require.Len(t, job.Spec.Template.Spec.ImagePullSecrets, 1)
	assert.Equal(t, "registry-credentials", job.Spec.Template.Spec.ImagePullSecrets[0].Name)
}
