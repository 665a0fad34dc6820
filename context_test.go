package delegatekit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestActorID tests actor propagation through context
func TestActorID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetActorID(ctx))

	ctx = WithActorID(ctx, "manager-1")
	assert.Equal(t, "manager-1", GetActorID(ctx))

	// Overwriting replaces the value.
	ctx = WithActorID(ctx, "manager-2")
	assert.Equal(t, "manager-2", GetActorID(ctx))
}

// TestRequestContext tests the forensics bundle helpers
func TestRequestContext(t *testing.T) {
	ctx := context.Background()

	ctx = WithIPAddress(ctx, "192.168.1.9")
	ctx = WithUserAgent(ctx, "test-agent")
	ctx = WithRequestID(ctx, "req-42")

	assert.Equal(t, "192.168.1.9", GetIPAddress(ctx))
	assert.Equal(t, "test-agent", GetUserAgent(ctx))
	assert.Equal(t, "req-42", GetRequestID(ctx))

	rc := GetRequestContext(ctx)
	assert.Equal(t, "192.168.1.9", rc.IPAddress)
	assert.Equal(t, "test-agent", rc.UserAgent)
	assert.Equal(t, "req-42", rc.RequestID)
}

// TestWithRequestContext tests setting the whole bundle at once
func TestWithRequestContext(t *testing.T) {
	ctx := WithRequestContext(context.Background(), RequestContext{
		IPAddress: "10.0.0.1",
		UserAgent: "bundle-agent",
		RequestID: "req-1",
	})

	assert.Equal(t, "10.0.0.1", GetIPAddress(ctx))
	assert.Equal(t, "bundle-agent", GetUserAgent(ctx))
	assert.Equal(t, "req-1", GetRequestID(ctx))
}

// TestRequestContext_Empty tests zero values on a bare context
func TestRequestContext_Empty(t *testing.T) {
	rc := GetRequestContext(context.Background())
	assert.Empty(t, rc.IPAddress)
	assert.Empty(t, rc.UserAgent)
	assert.Empty(t, rc.RequestID)
}
