package ctxutil_test

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/jb-612/dox-asdlc-sub004/internal/auth"
	"github.com/jb-612/dox-asdlc-sub004/internal/ctxutil"
)

func TestClaimsRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, ctxutil.ClaimsFromContext(ctx))
	assert.Equal(t, ctxutil.AnonymousActor, ctxutil.Actor(ctx))

	claims := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"}, Role: auth.RoleEditor}
	ctx = ctxutil.WithClaims(ctx, claims)
	assert.Same(t, claims, ctxutil.ClaimsFromContext(ctx))
	assert.Equal(t, "alice", ctxutil.Actor(ctx))
}

func TestRequestID(t *testing.T) {
	assert.Empty(t, ctxutil.RequestIDFromContext(context.Background()))
	ctx := ctxutil.WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", ctxutil.RequestIDFromContext(ctx))
}
