package plugin

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUnknownSchemeReturnsNoImplementationError(t *testing.T) {
	_, err := Get(GroupCollectd, "nosuchscheme:///path")
	require.Error(t, err)
	var niErr *NoImplementationError
	assert.ErrorAs(t, err, &niErr)
	assert.Equal(t, "nosuchscheme", niErr.Scheme)
}

func TestRegisterAndGet(t *testing.T) {
	Register(GroupFetcher, "testscheme", func(u *url.URL) (any, error) {
		return u.Path, nil
	})
	got, err := Get(GroupFetcher, "testscheme:///some/path")
	require.NoError(t, err)
	assert.Equal(t, "/some/path", got)
}
