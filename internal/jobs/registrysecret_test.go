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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

func TestEnsureRegistrySecret_CreatesAndDedupes(t *testing.T) {
	scheme := runtime.NewScheme()
	require.NoError(t, corev1.AddToScheme(scheme))

	sa := &corev1.ServiceAccount{ObjectMeta: metav1.ObjectMeta{Name: "default", Namespace: "ns"}}
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(sa).Build()

	cred := RegistryCredential{Server: "registry.example", User: "u", Pass: "p", Email: "e@example.com"}

	name1, err := EnsureRegistrySecret(context.Background(), c, "ns", cred)
	require.NoError(t, err)
	assert.NotEmpty(t, name1)

	name2, err := EnsureRegistrySecret(context.Background(), c, "ns", cred)
	require.NoError(t, err)
	assert.Equal(t, name1, name2, "identical credentials must dedupe to the same secret name")

	updatedSA := &corev1.ServiceAccount{}
	require.NoError(t, c.Get(context.Background(), client.ObjectKey{Name: "default", Namespace: "ns"}, updatedSA))
	require.Len(t, updatedSA.ImagePullSecrets, 1)
	assert.Equal(t, name1, updatedSA.ImagePullSecrets[0].Name)
}

func TestEnsureRegistrySecret_DifferentCredsDifferentNames(t *testing.T) {
	scheme := runtime.NewScheme()
	require.NoError(t, corev1.AddToScheme(scheme))
	sa := &corev1.ServiceAccount{ObjectMeta: metav1.ObjectMeta{Name: "default", Namespace: "ns"}}
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(sa).Build()

	name1, err := EnsureRegistrySecret(context.Background(), c, "ns", RegistryCredential{Server: "a", User: "u", Pass: "p", Email: "e"})
	require.NoError(t, err)
	name2, err := EnsureRegistrySecret(context.Background(), c, "ns", RegistryCredential{Server: "b", User: "u", Pass: "p", Email: "e"})
	require.NoError(t, err)
	assert.NotEqual(t, name1, name2)
}
