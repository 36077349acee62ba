// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offsync

// Method identifies the remote operation a pending mutation maps to.
type Method string

// Mutation methods
const (
	MethodCreate Method = "create"
	MethodUpdate Method = "update"
	MethodDelete Method = "delete"
)

// Local store key prefixes
const (
	updatesPrefix = "updates."
)

// HTTP headers sent by HTTPGateway
const (
	HeaderContentType    = "Content-Type"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderAuthorization  = "Authorization"
	ContentTypeJSON      = "application/json"
)

// IDPolicy decides how create acknowledgements with a server-assigned id are handled.
type IDPolicy int

const (
	// IDPolicyEcho requires the server to echo the client-assigned id. An acknowledgement
	// with a different id is rejected with ErrIDMismatch and the mutation stays queued.
	IDPolicyEcho IDPolicy = iota

	// IDPolicyRemap accepts the server id and rewrites the local store key, the cache
	// entry and the entity id to it.
	IDPolicyRemap
)

func (p IDPolicy) String() string {
	switch p {
	case IDPolicyEcho:
		return "echo"
	case IDPolicyRemap:
		return "remap"
	default:
		return "unknown"
	}
}
