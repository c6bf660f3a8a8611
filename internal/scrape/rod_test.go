package scrape

import (
	"context"
	"net"
	"testing"

	"github.com/go-rod/rod"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// An unconnected rod.Browser panics on any CDP call, so a clean Close shows
// that no Browser.close was sent.
func TestRodSessionClose_SharedBrowserIsNotClosed(t *testing.T) {
	s := &rodSession{browser: rod.New()}

	assert.NotPanics(t, func() {
		assert.NoError(t, s.Close())
	})
	assert.Nil(t, s.browser)
	assert.NoError(t, s.Close())
}

func TestRodBrowser_AttachFailureRedialsNextTime(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	b := NewRodBrowser(RodConfig{RemoteURL: "ws://" + addr}, nil)
	for i := 0; i < 2; i++ {
		sess, err := b.NewSession(context.Background())
		require.Error(t, err)
		assert.Nil(t, sess)
		assert.Contains(t, err.Error(), "browser attach")
		assert.Nil(t, b.root)
	}
}
