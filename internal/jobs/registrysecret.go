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
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// RegistryCredential is one set of registry login credentials carried in a
// JobSpec's secrets map (spec.md §3, §4.3: "imagePullSecrets = default
// registry secret ∪ user-supplied, constructed deterministically from
// {server,user,pass,email}").
type RegistryCredential struct {
	Server string
	User   string
	Pass   string
	Email  string
}

// secretName hashes {server,user,pass,email} so identical credentials
// dedupe onto the same Secret object instead of accumulating duplicates
// (spec.md §5.2, adapted from the teacher's fixed-name registry_secrets.go
// into this hash-named scheme).
func (c RegistryCredential) secretName() string {
	sum := sha1.Sum([]byte(c.Server + "|" + c.User + "|" + c.Pass + "|" + c.Email))
	return "regcred-" + hex.EncodeToString(sum[:])[:16]
}

func (c RegistryCredential) dockerConfigJSON() ([]byte, error) {
	auth := base64.StdEncoding.EncodeToString([]byte(c.User + ":" + c.Pass))
	doc := map[string]interface{}{
		"auths": map[string]interface{}{
			c.Server: map[string]string{
				"username": c.User,
				"password": c.Pass,
				"email":    c.Email,
				"auth":     auth,
			},
		},
	}
	return json.Marshal(doc)
}

// EnsureRegistrySecret creates (or leaves alone, if already present) a
// dockerconfigjson Secret for cred in namespace and patches the default
// ServiceAccount's imagePullSecrets to reference it. Returns the secret
// name so the caller can add it to a Job's imagePullSecrets list.
func EnsureRegistrySecret(ctx context.Context, c client.Client, namespace string, cred RegistryCredential) (string, error) {
	name := cred.secretName()

	existing := &corev1.Secret{}
	err := c.Get(ctx, client.ObjectKey{Name: name, Namespace: namespace}, existing)
	if err == nil {
		return name, ensureServiceAccountHasPullSecret(ctx, c, namespace, name)
	}
	if !apierrors.IsNotFound(err) {
		return "", fmt.Errorf("jobs: get registry secret %s: %w", name, err)
	}

	dockerConfig, err := cred.dockerConfigJSON()
	if err != nil {
		return "", fmt.Errorf("jobs: build dockerconfigjson: %w", err)
	}

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Type:       corev1.SecretTypeDockerConfigJson,
		Data:       map[string][]byte{corev1.DockerConfigJsonKey: dockerConfig},
	}
	if err := c.Create(ctx, secret); err != nil {
		return "", fmt.Errorf("jobs: create registry secret %s: %w", name, err)
	}

	return name, ensureServiceAccountHasPullSecret(ctx, c, namespace, name)
}

func ensureServiceAccountHasPullSecret(ctx context.Context, c client.Client, namespace, secretName string) error {
	sa := &corev1.ServiceAccount{}
	if err := c.Get(ctx, client.ObjectKey{Name: "default", Namespace: namespace}, sa); err != nil {
		return fmt.Errorf("jobs: get default service account: %w", err)
	}

	for _, ref := range sa.ImagePullSecrets {
		if ref.Name == secretName {
			return nil
		}
	}

	sa.ImagePullSecrets = append(sa.ImagePullSecrets, corev1.LocalObjectReference{Name: secretName})
	if err := c.Update(ctx, sa); err != nil {
		return fmt.Errorf("jobs: patch default service account: %w", err)
	}
	return nil
}
