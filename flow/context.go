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

import (
	"context"

	"github.com/flowrun/flowrun/internal/base"
)

// stepContextKey is the ambient "current drive" slot: a context value, not a
// process-global, so concurrent drives on independent goroutines never
// alias each other's StepContext.
var stepContextKey = base.NewContextKey[*StepContext]()

// withStepContext installs sc for the duration of the returned context. The
// caller threads the returned ctx through the drive; when that ctx (or any
// context derived from the drive's original parent) goes out of scope, sc is
// unreachable again — scoped acquisition with guaranteed release on every
// exit path, including a panic, since no explicit teardown step is needed.
func withStepContext(ctx context.Context, sc *StepContext) context.Context {
	return stepContextKey.NewContext(ctx, sc)
}

// fromContext retrieves the StepContext installed by the active drive, or
// nil if none (i.e. the caller is not executing inside a flow body).
func fromContext(ctx context.Context) *StepContext {
	return stepContextKey.FromContext(ctx)
}
