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

package kv

import skyerrors "github.com/skyshift-sh/skyshift/pkg/errors"

// ErrCompacted is returned by Watch when the requested fromVersion has
// already fallen out of the driver's bounded replay window.
var ErrCompacted = skyerrors.New(skyerrors.KindTransient, "kv: requested version has been compacted")
