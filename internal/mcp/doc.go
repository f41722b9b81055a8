// Copyright 2025 Tom Barlow
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

/*
Package mcp orchestrates a dynamic set of tool servers.

The pieces, in the order a call flows through them:

  - Registry stores server configurations and audits every change.
  - Manager connects to servers through a transport, runs the handshake,
    discovers tools and resources, and watches each session.
  - Catalog is the live union of tools across connected servers. Names
    shared by several servers are exposed under "<server>__<tool>" aliases
    and the bare name goes to the highest-priority server.
  - Invoker resolves a name through the catalog, calls the owning server
    with a per-call timeout, and emits exactly one InvocationRecord.

State transitions, config changes, and health findings are published on a
Bus for anything that wants to follow along.

# Connection states

	disabled -> disconnected -> connecting -> connected
	                                      \-> error
	connected -> error        (session ended on its own)
	error|disconnected -> connecting
	any -> disconnected       (disconnect; idempotent)

Each server has its own locks, so a slow or failing server never blocks
another.
*/
package mcp
