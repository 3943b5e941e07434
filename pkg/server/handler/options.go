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

package handler

import (
	"os"
	"time"

	"github.com/spf13/pflag"
)

// Options configures the object API handlers.
type Options struct {
	// BootstrapSubject is granted the admin-role the first time the
	// server starts against an empty store, so there's always a
	// principal able to mint the first invite.
	BootstrapSubject string

	// BootstrapSecret is the bootstrap subject's initial password,
	// normally injected from the environment; when empty no bootstrap
	// user is created and only pre-existing users can log in.
	BootstrapSecret string

	// InviteDuration is the validity window of every invite minted
	// through the API; invite requests carry no duration of their own.
	InviteDuration time.Duration
}

// AddFlags registers flags with the provided flag set.
func (o *Options) AddFlags(f *pflag.FlagSet) {
	f.StringVar(&o.BootstrapSubject, "bootstrap-subject", "admin", "Subject granted the admin role on first startup.")
	f.StringVar(&o.BootstrapSecret, "bootstrap-secret", os.Getenv("SKYSHIFT_BOOTSTRAP_SECRET"), "Initial password for the bootstrap subject; defaults to $SKYSHIFT_BOOTSTRAP_SECRET.")
	f.DurationVar(&o.InviteDuration, "invite-duration", 7*24*time.Hour, "Default invite token validity window.")
}
