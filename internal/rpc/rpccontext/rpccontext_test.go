// file: internal/rpc/rpccontext/rpccontext_test.go
package rpccontext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/trafficctl/rpcmgmt/internal/rpc/rpctypes"
	"github.com/trafficctl/rpcmgmt/internal/rpcerr"
)

func TestCredentialCheckerAllowsUnrestricted(t *testing.T) {
	checker := CredentialChecker(PeerCredentials{UID: 501}, 0)
	err := checker(rpctypes.HandlerOptions{Restricted: false})
	assert.NoError(t, err)
}

func TestCredentialCheckerAllowsMatchingUID(t *testing.T) {
	checker := CredentialChecker(PeerCredentials{UID: 0}, 0)
	err := checker(rpctypes.HandlerOptions{Restricted: true})
	assert.NoError(t, err)
}

func TestCredentialCheckerRejectsMismatchedUID(t *testing.T) {
	checker := CredentialChecker(PeerCredentials{UID: 501}, 0)
	err := checker(rpctypes.HandlerOptions{Restricted: true})
	assert.Error(t, err)
	assert.Equal(t, rpcerr.CodeUnauthorized, rpcerr.GetCode(err))
}

func TestContextAuthorizeStopsAtFirstFailure(t *testing.T) {
	calls := 0
	first := func(rpctypes.HandlerOptions) error {
		calls++
		return rpcerr.ErrorWithDetails(rpcerr.ErrUnauthorized, rpcerr.CategoryAuth, rpcerr.CodeUnauthorized, nil)
	}
	second := func(rpctypes.HandlerOptions) error {
		calls++
		return nil
	}

	ctx := New(first, second)
	err := ctx.Authorize(rpctypes.HandlerOptions{Restricted: true})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestAllowAllHasNoCheckers(t *testing.T) {
	ctx := AllowAll()
	assert.NoError(t, ctx.Authorize(rpctypes.HandlerOptions{Restricted: true}))
}
