// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
)

type contextKey string

const (
	ownerKey  contextKey = "owner"
	deviceKey contextKey = "device"
)

// SetOwner sets the collection owner (JWT subject) in the context
func SetOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// GetOwner retrieves the collection owner from the context
func GetOwner(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey).(string)
	return owner, ok
}

// SetDevice sets the calling device id in the context
func SetDevice(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, deviceKey, device)
}

// GetDevice retrieves the calling device id from the context
func GetDevice(ctx context.Context) (string, bool) {
	device, ok := ctx.Value(deviceKey).(string)
	return device, ok
}

// SetAuthContext sets owner and device in context
func SetAuthContext(ctx context.Context, owner, device string) context.Context {
	ctx = SetOwner(ctx, owner)
	ctx = SetDevice(ctx, device)
	return ctx
}
