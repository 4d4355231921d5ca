package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActorID(t *testing.T) {
	ctx := context.Background()
	_, ok := GetActorID(ctx)
	assert.False(t, ok)

	_, ok = GetActorID(WithActorID(ctx, ""))
	assert.False(t, ok, "empty actor id is not an identity")

	id, ok := GetActorID(WithActorID(ctx, "user-1"))
	assert.True(t, ok)
	assert.Equal(t, "user-1", id)
}

func TestPortalAccountID(t *testing.T) {
	ctx := WithPortalAccountID(context.Background(), "acct-1")
	id, ok := GetPortalAccountID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "acct-1", id)

	_, ok = GetActorID(ctx)
	assert.False(t, ok, "account ids are not actor ids")
}

func TestRequestIDAndDecision(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithDecision(ctx, "decision")
	ctx = WithPortalAccess(ctx, 42)

	id, ok := GetRequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)
	assert.Equal(t, "decision", GetDecision(ctx))
	assert.Equal(t, 42, GetPortalAccess(ctx))
}
