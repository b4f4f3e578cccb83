// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package flow

import "context"

// AuthContext is the parsed form of an auth header or caller-supplied
// credential, handed to an Auth's policy check.
type AuthContext map[string]any

// Auth configures an auth context provider and policy check for a flow.
// Only non-durable flows may carry one: a durable flow's start envelope can
// arrive on a different request, or no request at all (runScheduled), so
// there is no header to parse a policy from by the time the drive resumes.
// See Flow's construction-time invariant in flow.go.
type Auth interface {
	// ProvideAuthContext parses authHeader and installs the result on ctx.
	ProvideAuthContext(ctx context.Context, authHeader string) (context.Context, error)
	// NewContext installs an already-parsed AuthContext on ctx, for callers
	// that supply one directly rather than through an HTTP header.
	NewContext(ctx context.Context, authContext AuthContext) context.Context
	// FromContext retrieves the AuthContext installed on ctx, if any.
	FromContext(ctx context.Context) AuthContext
	// CheckAuthPolicy checks the auth context installed on ctx against input.
	CheckAuthPolicy(ctx context.Context, input any) error
}
