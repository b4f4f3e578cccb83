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

// This sample serves the approval flow over HTTP against a file-backed
// store and an in-process scheduler.
//
// Start the server:
//
//	go run . -dir /tmp/flowrun-approval
//
// Start a run (prints the flowId in the response body):
//
//	curl -d '{"start":{"input":null}}' http://localhost:3400/approval
//
// Resume it with an approval decision:
//
//	curl -d '{"resume":{"flowId":"<id>","payload":{"approved":true}}}' \
//	     http://localhost:3400/approval
package main

import (
	"flag"
	"log"

	"github.com/flowrun/flowrun/examples/approval"
	"github.com/flowrun/flowrun/flow"
	"github.com/flowrun/flowrun/flowhttp"
)

func main() {
	dir := flag.String("dir", "flowrun-data", "directory for the file-backed state store")
	addr := flag.String("addr", "", "listen address (defaults to $PORT or :3400)")
	flag.Parse()

	store, err := flow.NewFileStateStore(*dir)
	if err != nil {
		log.Fatalf("flowservegen: state store: %v", err)
	}
	reg := flow.NewRegistry()
	sched := flow.NewInProcessScheduler(reg)

	f := approval.New(store, sched, reg)

	cfg := &flowhttp.ServerConfig{
		Addr: *addr,
		CORS: &flowhttp.CORSPolicy{AllowOrigins: []string{"*"}},
	}
	log.Fatal(flowhttp.ListenAndServe([]flow.HTTPFlow{f}, cfg))
}
