package capability

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/blobfm/pkg/protocol"
)

var testAccount = Account{
	Name:      "acct",
	Key:       "k3y",
	Container: "files",
	BaseURL:   "http://store.local/",
}

func tokenOf(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return u.Query().Get(protocol.SignatureParam)
}

func TestSignAndVerifyBlob(t *testing.T) {
	s := NewSigner(testAccount)
	c, err := s.Sign(ScopeBlob, "docs/my file.txt", Read, time.Now().Add(time.Hour))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(c.URL, "http://store.local/files/docs/my%20file.txt?sig="))

	claims, err := NewVerifier(testAccount).Verify(tokenOf(t, c.URL))
	require.NoError(t, err)
	assert.Equal(t, ScopeBlob, claims.Scope)
	assert.Equal(t, "docs/my file.txt", claims.Resource)
	assert.NoError(t, claims.Allows(ScopeBlob, "docs/my file.txt", Read))
	assert.ErrorIs(t, claims.Allows(ScopeBlob, "docs/my file.txt", Write, Create), ErrPermissionMismatch)
	assert.ErrorIs(t, claims.Allows(ScopeBlob, "docs/other.txt", Read), ErrResourceMismatch)
	assert.ErrorIs(t, claims.Allows(ScopeContainer, "", List), ErrResourceMismatch)
}

func TestSignContainerIgnoresResource(t *testing.T) {
	c, err := NewSigner(testAccount).Sign(ScopeContainer, "ignored", List, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "", c.Resource)
	assert.True(t, strings.HasPrefix(c.URL, "http://store.local/files?sig="))
}

func TestSignWithoutKey(t *testing.T) {
	acct := testAccount
	acct.Key = ""
	_, err := NewSigner(acct).Sign(ScopeContainer, "", List, time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestSignBlobRequiresName(t *testing.T) {
	_, err := NewSigner(testAccount).Sign(ScopeBlob, "", Read, time.Now().Add(time.Minute))
	assert.Error(t, err)
}

func TestVerifyExpired(t *testing.T) {
	s := NewSigner(testAccount)
	c, err := s.Sign(ScopeBlob, "x", Read, time.Now().Add(time.Hour))
	require.NoError(t, err)

	v := NewVerifier(testAccount)
	v.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = v.Verify(tokenOf(t, c.URL))
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyRejectsForeignKeyAndContainer(t *testing.T) {
	c, err := NewSigner(testAccount).Sign(ScopeBlob, "x", Read, time.Now().Add(time.Hour))
	require.NoError(t, err)
	token := tokenOf(t, c.URL)

	wrongKey := testAccount
	wrongKey.Key = "other"
	_, err = NewVerifier(wrongKey).Verify(token)
	assert.ErrorIs(t, err, ErrAuthentication)

	wrongContainer := testAccount
	wrongContainer.Container = "other"
	_, err = NewVerifier(wrongContainer).Verify(token)
	assert.ErrorIs(t, err, ErrAuthentication)

	_, err = NewVerifier(testAccount).Verify("")
	assert.True(t, errors.Is(err, ErrAuthentication))
}

func TestEscapeName(t *testing.T) {
	assert.Equal(t, "a%20b/c%3Fd/e", EscapeName("a b/c?d/e"))
	assert.Equal(t, "http://h/files", ResourceURL("http://h/", "files", ""))
}
