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

package v1alpha1_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
)

func TestValidName(t *testing.T) {
	t.Parallel()

	valid := []string{"a", "job-1", "cluster-0", "x23", "abc-def-ghi"}
	invalid := []string{"", "-abc", "abc-", "ABC", "has_underscore", "has space"}

	for _, n := range valid {
		assert.Truef(t, v1alpha1.ValidName(n), "expected %q to be valid", n)
	}

	for _, n := range invalid {
		assert.Falsef(t, v1alpha1.ValidName(n), "expected %q to be invalid", n)
	}
}

func TestClusterDeepCopy(t *testing.T) {
	t.Parallel()

	c := &v1alpha1.Cluster{
		Meta: v1alpha1.ObjectMeta{
			Name:   "c1",
			Labels: map[string]string{"region": "lon1"},
		},
		Spec: v1alpha1.ClusterSpec{
			Manager:   v1alpha1.ClusterManagerKubernetes,
			Resources: v1alpha1.ResourceList{"cpu": 8},
		},
		Status: v1alpha1.ClusterStatus{
			Phase:    v1alpha1.ClusterPhaseReady,
			Capacity: v1alpha1.NodeResourceList{"node-0": {"cpu": 8}},
		},
	}

	cp, ok := c.DeepCopyObject().(*v1alpha1.Cluster)
	require.True(t, ok)

	assert.Equal(t, c.Spec, cp.Spec)

	cp.Spec.Resources["cpu"] = 100
	cp.Meta.Labels["region"] = "lon2"
	cp.Status.Capacity["node-0"]["cpu"] = 100

	assert.Equal(t, float64(8), c.Spec.Resources["cpu"])
	assert.Equal(t, "lon1", c.Meta.Labels["region"])
	assert.Equal(t, float64(8), c.Status.Capacity["node-0"]["cpu"])
}

func TestJobReplicaStatusSum(t *testing.T) {
	t.Parallel()

	status := v1alpha1.JobStatus{
		ReplicaStatus: map[string]v1alpha1.ReplicaStatusCounts{
			"c1": {v1alpha1.ReplicaStateRunning: 2, v1alpha1.ReplicaStatePending: 1},
			"c2": {v1alpha1.ReplicaStateRunning: 1},
		},
	}

	assert.Equal(t, 4, status.TotalReplicas())
}

func TestConditionListSetTracksTransitionOnStatusChangeOnly(t *testing.T) {
	t.Parallel()

	var conditions v1alpha1.ConditionList

	conditions.Set(v1alpha1.ConditionAvailable, v1alpha1.ConditionFalse, v1alpha1.ConditionReasonProvisioning, "provisioning")
	require.Len(t, conditions, 1)

	first := conditions.Get(v1alpha1.ConditionAvailable)
	require.NotNil(t, first)

	firstTransition := first.LastTransitionTime

	conditions.Set(v1alpha1.ConditionAvailable, v1alpha1.ConditionFalse, v1alpha1.ConditionReasonProvisioning, "still provisioning")
	second := conditions.Get(v1alpha1.ConditionAvailable)
	require.NotNil(t, second)
	assert.Equal(t, firstTransition, second.LastTransitionTime)
	assert.Equal(t, "still provisioning", second.Message)

	conditions.Set(v1alpha1.ConditionAvailable, v1alpha1.ConditionTrue, v1alpha1.ConditionReasonProvisioned, "ready")
	third := conditions.Get(v1alpha1.ConditionAvailable)
	require.NotNil(t, third)
	assert.NotEqual(t, firstTransition, third.LastTransitionTime)
}

func TestObjectMetaFinalizers(t *testing.T) {
	t.Parallel()

	m := &v1alpha1.ObjectMeta{}

	assert.True(t, m.AddFinalizer("skyshift.sh/finalizer"))
	assert.False(t, m.AddFinalizer("skyshift.sh/finalizer"))
	assert.True(t, m.HasFinalizer("skyshift.sh/finalizer"))

	assert.True(t, m.RemoveFinalizer("skyshift.sh/finalizer"))
	assert.False(t, m.HasFinalizer("skyshift.sh/finalizer"))
	assert.False(t, m.RemoveFinalizer("skyshift.sh/finalizer"))
}

func TestKindNamespaced(t *testing.T) {
	t.Parallel()

	assert.True(t, v1alpha1.KindJob.Namespaced())
	assert.True(t, v1alpha1.KindService.Namespaced())
	assert.True(t, v1alpha1.KindEndpoints.Namespaced())
	assert.True(t, v1alpha1.KindFilterPolicy.Namespaced())
	assert.False(t, v1alpha1.KindCluster.Namespaced())
	assert.False(t, v1alpha1.KindNamespace.Namespaced())
	assert.False(t, v1alpha1.KindLink.Namespaced())
	assert.False(t, v1alpha1.KindRole.Namespaced())
	assert.False(t, v1alpha1.KindUser.Namespaced())
}

func TestNewAllocatesConcreteKind(t *testing.T) {
	t.Parallel()

	for _, kind := range v1alpha1.Kinds() {
		obj := v1alpha1.New(kind)
		require.NotNil(t, obj)
		assert.Equal(t, kind, obj.GetKind())
	}
}
