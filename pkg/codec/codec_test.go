/*
Copyright 2022-2023 EscherCloud.

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

package codec_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/codec"
	skyerrors "github.com/skyshift-sh/skyshift/pkg/errors"
)

func TestDecodeJobAppliesDefaults(t *testing.T) {
	t.Parallel()

	body := `{"metadata":{"name":"j1","namespace":"default"},"spec":{"image":"busybox","replicas":2}}`

	obj, err := codec.Decode(v1alpha1.KindJob, strings.NewReader(body))
	require.NoError(t, err)

	job, ok := obj.(*v1alpha1.Job)
	require.True(t, ok)

	assert.Equal(t, v1alpha1.RestartPolicyAlways, job.Spec.RestartPolicy)
	assert.NotNil(t, job.Meta.Labels)
	assert.False(t, job.Meta.CreationTimestamp.IsZero())
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	body := `{"metadata":{"name":"j1","namespace":"default"},"spec":{"image":"busybox","replicas":2,"bogus":true}}`

	_, err := codec.Decode(v1alpha1.KindJob, strings.NewReader(body))
	require.Error(t, err)
	assert.True(t, skyerrors.Is(err, skyerrors.KindInvalidObject))
}

func TestDecodeRejectsInvalidName(t *testing.T) {
	t.Parallel()

	body := `{"metadata":{"name":"Bad_Name","namespace":"default"},"spec":{"image":"busybox","replicas":1}}`

	_, err := codec.Decode(v1alpha1.KindJob, strings.NewReader(body))
	require.Error(t, err)
	assert.True(t, skyerrors.Is(err, skyerrors.KindInvalidObject))
}

func TestDecodeRejectsNegativeReplicas(t *testing.T) {
	t.Parallel()

	body := `{"metadata":{"name":"j1","namespace":"default"},"spec":{"image":"busybox","replicas":-1}}`

	_, err := codec.Decode(v1alpha1.KindJob, strings.NewReader(body))
	require.Error(t, err)
	assert.True(t, skyerrors.Is(err, skyerrors.KindInvalidObject))
}

func TestDecodeRejectsMissingNamespaceForNamespacedKind(t *testing.T) {
	t.Parallel()

	body := `{"metadata":{"name":"j1"},"spec":{"image":"busybox","replicas":1}}`

	_, err := codec.Decode(v1alpha1.KindJob, strings.NewReader(body))
	require.Error(t, err)
	assert.True(t, skyerrors.Is(err, skyerrors.KindInvalidObject))
}

func TestDecodeRejectsNamespaceOnGlobalKind(t *testing.T) {
	t.Parallel()

	body := `{"metadata":{"name":"c1","namespace":"default"},"spec":{"manager":"k8"}}`

	_, err := codec.Decode(v1alpha1.KindCluster, strings.NewReader(body))
	require.Error(t, err)
	assert.True(t, skyerrors.Is(err, skyerrors.KindInvalidObject))
}

func TestValidateServiceNodePortOnlyWithNodePortType(t *testing.T) {
	t.Parallel()

	body := `{"metadata":{"name":"s1","namespace":"default"},"spec":{"type":"ClusterIP","ports":[{"port":80,"targetPort":8080,"nodePort":30000}]}}`

	_, err := codec.Decode(v1alpha1.KindService, strings.NewReader(body))
	require.Error(t, err)
	assert.True(t, skyerrors.Is(err, skyerrors.KindInvalidObject))
}

func TestDecodeClusterDefaultsPhaseToInit(t *testing.T) {
	t.Parallel()

	body := `{"metadata":{"name":"c1"},"spec":{"manager":"slurm"}}`

	obj, err := codec.Decode(v1alpha1.KindCluster, strings.NewReader(body))
	require.NoError(t, err)

	cluster, ok := obj.(*v1alpha1.Cluster)
	require.True(t, ok)
	assert.Equal(t, v1alpha1.ClusterPhaseInit, cluster.Status.Phase)
}
