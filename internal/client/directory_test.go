package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hcpe-setisd/leitos-backend/internal/common"
	"github.com/hcpe-setisd/leitos-backend/internal/config"
	"github.com/hcpe-setisd/leitos-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	mu        sync.Mutex
	events    []string
	dialErr   error
	bindErrs  map[string]error
	searchErr error
	entries   []*ldap.Entry
	unbindErr error
	account   string
	lastReq   *ldap.SearchRequest
	dials     int
}

type fakeConn struct {
	dir   *fakeDirectory
	id    int
	bound string
}

func (f *fakeDirectory) dial(string, time.Duration) (ldapConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	f.dials++
	f.events = append(f.events, "dial")
	return &fakeConn{dir: f, id: f.dials}, nil
}

func (f *fakeDirectory) record(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (c *fakeConn) Bind(username, _ string) error {
	c.dir.record("bind:" + username)
	if err := c.dir.bindErrs[username]; err != nil {
		return err
	}
	c.bound = username
	return nil
}

func (c *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	c.dir.record("search:" + c.bound)
	c.dir.lastReq = req
	if c.dir.searchErr != nil {
		return nil, c.dir.searchErr
	}
	if c.dir.account != "" && !strings.Contains(req.Filter, "(sAMAccountName="+c.dir.account+")") {
		return &ldap.SearchResult{}, nil
	}
	return &ldap.SearchResult{Entries: c.dir.entries}, nil
}

func (c *fakeConn) Unbind() error {
	c.dir.record("unbind:" + c.bound)
	return c.dir.unbindErr
}

func newTestVerifier(t *testing.T, dir *fakeDirectory, bindUser, bindPassword string) *DirectoryVerifier {
	t.Helper()
	v, err := NewDirectoryVerifier(config.DirectoryConfig{
		URL:          "ldap://ad.test:389",
		BaseDN:       "DC=ebserh,DC=gov,DC=br",
		BindUser:     bindUser,
		BindPassword: bindPassword,
		UserDomain:   "EBSERHNET",
		Attributes:   "displayName,mail,memberOf",
		Timeout:      "10s",
		PoolSize:     "2",
	})
	require.NoError(t, err)
	v.dial = dir.dial
	return v
}

func aliceEntry() *ldap.Entry {
	return ldap.NewEntry("CN=Alice,OU=Staff,DC=ebserh,DC=gov,DC=br", map[string][]string{
		"memberOf": {
			"CN=Users,OU=Groups,DC=ebserh,DC=gov,DC=br",
			"CN=GLO-SEC-HCPE-SETISD,OU=Groups,DC=ebserh,DC=gov,DC=br",
			"OU=NotAGroup,DC=ebserh",
		},
		"displayName": {"Alice Souza"},
		"mail":        {"alice@ebserh.gov.br"},
	})
}

func TestNewDirectoryVerifierMisconfigured(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DirectoryConfig
	}{
		{name: "missing-url", cfg: config.DirectoryConfig{BaseDN: "DC=x", Timeout: "10s", PoolSize: "1"}},
		{name: "missing-basedn", cfg: config.DirectoryConfig{URL: "ldap://x", Timeout: "10s", PoolSize: "1"}},
		{name: "bad-timeout", cfg: config.DirectoryConfig{URL: "ldap://x", BaseDN: "DC=x", Timeout: "soon", PoolSize: "1"}},
		{name: "bad-pool", cfg: config.DirectoryConfig{URL: "ldap://x", BaseDN: "DC=x", Timeout: "10s", PoolSize: "0"}},
		{name: "half-service-account", cfg: config.DirectoryConfig{URL: "ldap://x", BaseDN: "DC=x", Timeout: "10s", PoolSize: "1", BindUser: "svc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDirectoryVerifier(tt.cfg)
			require.ErrorIs(t, err, common.ErrMisconfiguredProvider)
		})
	}
}

func TestAuthenticateWithUserConnection(t *testing.T) {
	dir := &fakeDirectory{entries: []*ldap.Entry{aliceEntry()}}
	v := newTestVerifier(t, dir, "", "")

	identity, err := v.Authenticate(context.Background(), "alice", "pw")
	require.NoError(t, err)

	assert.Equal(t, "alice", identity.Username)
	assert.Equal(t, []string{"Users", "GLO-SEC-HCPE-SETISD"}, identity.Groups)
	assert.Equal(t, model.AttributeValue{"Alice Souza"}, identity.Attributes["displayName"])
	assert.Equal(t, model.AttributeValue{"alice@ebserh.gov.br"}, identity.Attributes["mail"])
	assert.NotContains(t, identity.Attributes, "memberOf")

	assert.Equal(t, []string{"dial", `bind:EBSERHNET\alice`, `search:EBSERHNET\alice`, `unbind:EBSERHNET\alice`}, dir.events)
	assert.Equal(t, "(&(objectClass=user)(sAMAccountName=alice))", dir.lastReq.Filter)
	assert.Equal(t, []string{"memberOf", "displayName", "mail"}, dir.lastReq.Attributes)
}

func TestAuthenticateWithServiceAccountReleasesLIFO(t *testing.T) {
	dir := &fakeDirectory{entries: []*ldap.Entry{aliceEntry()}, unbindErr: errors.New("already closed")}
	v := newTestVerifier(t, dir, "svc-leitos", "svc-pw")

	identity, err := v.Authenticate(context.Background(), "alice", "pw")
	require.NoError(t, err, "unbind errors must not mask the result")
	assert.Len(t, identity.Groups, 2)

	assert.Equal(t, []string{
		"dial", `bind:EBSERHNET\alice`,
		"dial", "bind:svc-leitos",
		"search:svc-leitos",
		"unbind:svc-leitos",
		`unbind:EBSERHNET\alice`,
	}, dir.events)
}

func TestAuthenticateInvalidCredentials(t *testing.T) {
	dir := &fakeDirectory{bindErrs: map[string]error{
		`EBSERHNET\alice`: ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad password")),
	}}
	v := newTestVerifier(t, dir, "", "")

	_, err := v.Authenticate(context.Background(), "alice", "wrong")
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
	assert.Equal(t, `unbind:`, dir.events[len(dir.events)-1])
}

func TestAuthenticateEmptyPasswordNeverBinds(t *testing.T) {
	dir := &fakeDirectory{}
	v := newTestVerifier(t, dir, "", "")

	_, err := v.Authenticate(context.Background(), "alice", "")
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
	assert.Empty(t, dir.events)
}

func TestAuthenticateServiceUnavailable(t *testing.T) {
	dir := &fakeDirectory{dialErr: ldap.NewError(ldap.ErrorNetwork, errors.New("connection refused"))}
	v := newTestVerifier(t, dir, "", "")

	_, err := v.Authenticate(context.Background(), "alice", "pw")
	require.ErrorIs(t, err, common.ErrServiceUnavailable)
}

func TestAuthenticateSearchFailureIsServiceError(t *testing.T) {
	dir := &fakeDirectory{searchErr: ldap.NewError(ldap.LDAPResultOperationsError, errors.New("search failed"))}
	v := newTestVerifier(t, dir, "", "")

	_, err := v.Authenticate(context.Background(), "alice", "pw")
	require.ErrorIs(t, err, common.ErrServiceUnavailable)
	require.NotErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestAuthenticateServiceAccountRejected(t *testing.T) {
	dir := &fakeDirectory{bindErrs: map[string]error{
		"svc-leitos": ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad svc password")),
	}}
	v := newTestVerifier(t, dir, "svc-leitos", "svc-pw")

	_, err := v.Authenticate(context.Background(), "alice", "pw")
	require.ErrorIs(t, err, common.ErrServiceUnavailable)
	require.NotErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestAuthenticateUnexpectedBindError(t *testing.T) {
	dir := &fakeDirectory{bindErrs: map[string]error{
		`EBSERHNET\alice`: ldap.NewError(ldap.LDAPResultProtocolError, errors.New("protocol")),
	}}
	v := newTestVerifier(t, dir, "", "")

	_, err := v.Authenticate(context.Background(), "alice", "pw")
	require.ErrorIs(t, err, common.ErrInternal)
}

func TestAuthenticateUserNotInSearchBase(t *testing.T) {
	dir := &fakeDirectory{}
	v := newTestVerifier(t, dir, "", "")

	identity, err := v.Authenticate(context.Background(), "alice", "pw")
	require.NoError(t, err)
	assert.Empty(t, identity.Groups)
	assert.Nil(t, identity.Attributes)
}

func TestAuthenticateEscapesFilter(t *testing.T) {
	dir := &fakeDirectory{}
	v := newTestVerifier(t, dir, "", "")

	_, err := v.Authenticate(context.Background(), "a*)(cn=*", "pw")
	require.NoError(t, err)
	assert.Equal(t, `(&(objectClass=user)(sAMAccountName=a\2a\29\28cn=\2a))`, dir.lastReq.Filter)
}

func TestAuthenticateQualifiedUsername(t *testing.T) {
	tests := []struct {
		name      string
		username  string
		principal string
	}{
		{name: "upn", username: "alice@ebserh.gov.br", principal: "alice@ebserh.gov.br"},
		{name: "down-level", username: `OTHER\alice`, principal: `OTHER\alice`},
		{name: "plain", username: "alice", principal: `EBSERHNET\alice`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := &fakeDirectory{entries: []*ldap.Entry{aliceEntry()}, account: "alice"}
			v := newTestVerifier(t, dir, "svc-leitos", "svc-pw")

			identity, err := v.Authenticate(context.Background(), tt.username, "pw")
			require.NoError(t, err)
			assert.Equal(t, "alice", identity.Username)
			assert.Equal(t, []string{"Users", "GLO-SEC-HCPE-SETISD"}, identity.Groups)
			assert.Contains(t, dir.events, "bind:"+tt.principal)
			assert.Equal(t, "(&(objectClass=user)(sAMAccountName=alice))", dir.lastReq.Filter)

			again, err := v.Lookup(context.Background(), identity.Username)
			require.NoError(t, err)
			assert.Equal(t, identity.Groups, again.Groups)
		})
	}
}

func TestAuthenticateEmptyAccountName(t *testing.T) {
	dir := &fakeDirectory{}
	v := newTestVerifier(t, dir, "", "")

	_, err := v.Authenticate(context.Background(), "@ebserh.gov.br", "pw")
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
	assert.Empty(t, dir.events)
}

func TestAccountName(t *testing.T) {
	tests := map[string]string{
		"alice":               "alice",
		"alice@ebserh.gov.br": "alice",
		`EBSERHNET\alice`:     "alice",
		`EBSERHNET\`:          "",
	}
	for in, want := range tests {
		assert.Equal(t, want, accountName(in), in)
	}
}

func TestLookup(t *testing.T) {
	t.Run("requires-service-account", func(t *testing.T) {
		v := newTestVerifier(t, &fakeDirectory{}, "", "")
		_, err := v.Lookup(context.Background(), "alice")
		require.ErrorIs(t, err, common.ErrLookupUnsupported)
	})

	t.Run("found", func(t *testing.T) {
		dir := &fakeDirectory{entries: []*ldap.Entry{aliceEntry()}}
		v := newTestVerifier(t, dir, "svc-leitos", "svc-pw")
		identity, err := v.Lookup(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, []string{"Users", "GLO-SEC-HCPE-SETISD"}, identity.Groups)
		assert.Equal(t, []string{"dial", "bind:svc-leitos", "search:svc-leitos", "unbind:svc-leitos"}, dir.events)
	})

	t.Run("user-gone", func(t *testing.T) {
		v := newTestVerifier(t, &fakeDirectory{}, "svc-leitos", "svc-pw")
		_, err := v.Lookup(context.Background(), "alice")
		require.ErrorIs(t, err, common.ErrInvalidCredentials)
	})
}

func TestAuthenticateWaitsForSlot(t *testing.T) {
	v := newTestVerifier(t, &fakeDirectory{}, "", "")
	require.NoError(t, v.slots.Acquire(context.Background(), 2))
	defer v.slots.Release(2)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := v.Authenticate(ctx, "alice", "pw")
	require.ErrorIs(t, err, common.ErrServiceUnavailable)
}

func TestPrincipal(t *testing.T) {
	v := &DirectoryVerifier{userDomain: "EBSERHNET"}
	assert.Equal(t, `EBSERHNET\alice`, v.principal("alice"))
	assert.Equal(t, "alice@ebserh.gov.br", v.principal("alice@ebserh.gov.br"))
	assert.Equal(t, `OTHER\alice`, v.principal(`OTHER\alice`))

	v.userDomain = ""
	assert.Equal(t, "alice", v.principal("alice"))
}

func TestMockVerifier(t *testing.T) {
	m, err := NewMockVerifier("GLO-SEC-HCPE-SETISD")
	require.NoError(t, err)

	identity, err := m.Authenticate(context.Background(), MockUsername, mockPassword)
	require.NoError(t, err)
	assert.Equal(t, MockUsername, identity.Username)
	assert.Equal(t, []string{"GLO-SEC-HCPE-SETISD", "Users"}, identity.Groups)
	assert.Nil(t, identity.Attributes)

	_, err = m.Authenticate(context.Background(), MockUsername, "wrong")
	require.ErrorIs(t, err, common.ErrInvalidCredentials)

	_, err = m.Authenticate(context.Background(), "alice", mockPassword)
	require.ErrorIs(t, err, common.ErrInvalidCredentials)

	looked, err := m.Lookup(context.Background(), MockUsername)
	require.NoError(t, err)
	assert.Equal(t, identity, looked)
}
