// Active Directory(LDAP) 자격 증명 검증 클라이언트
//
// 환경변수:
//   - AD_URL: ldap://ad.example.local:389 또는 ldaps://...
//   - AD_BASEDN: 사용자 검색 기준 DN
//   - AD_BIND_USER / AD_BIND_PASSWORD: 그룹 검색용 서비스 계정 (선택)
//   - AD_USER_DOMAIN: 사용자 bind 시 principal 접두사 (default: EBSERHNET)
//   - AD_ATTRIBUTES: Identity에 포함할 추가 속성 목록
//   - AD_TIMEOUT: 연결/요청 타임아웃 (default: 10s)
//   - AD_POOL_SIZE: 동시 디렉터리 요청 수 제한 (default: 8)

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hcpe-setisd/leitos-backend/internal/common"
	"github.com/hcpe-setisd/leitos-backend/internal/config"
	"github.com/hcpe-setisd/leitos-backend/internal/model"
	"golang.org/x/sync/semaphore"
)

const memberOfAttribute = "memberOf"

var groupCNPattern = regexp.MustCompile(`(?i)^CN=([^,]+)`)

type ldapConn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Unbind() error
}

type dialFunc func(url string, timeout time.Duration) (ldapConn, error)

// DirectoryVerifier authenticates users with a simple bind against Active
// Directory and reads their group membership from memberOf.
type DirectoryVerifier struct {
	url          string
	baseDN       string
	bindUser     string
	bindPassword string
	userDomain   string
	attributes   []string
	timeout      time.Duration
	slots        *semaphore.Weighted
	dial         dialFunc
	logger       *slog.Logger
}

func NewDirectoryVerifier(cfg config.DirectoryConfig) (*DirectoryVerifier, error) {
	if strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.BaseDN) == "" {
		return nil, fmt.Errorf("%w: AD_URL and AD_BASEDN are required", common.ErrMisconfiguredProvider)
	}

	timeout, err := time.ParseDuration(strings.TrimSpace(cfg.Timeout))
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("%w: invalid AD_TIMEOUT", common.ErrMisconfiguredProvider)
	}

	poolSize, err := strconv.Atoi(strings.TrimSpace(cfg.PoolSize))
	if err != nil || poolSize <= 0 {
		return nil, fmt.Errorf("%w: invalid AD_POOL_SIZE", common.ErrMisconfiguredProvider)
	}

	if (cfg.BindUser == "") != (cfg.BindPassword == "") {
		return nil, fmt.Errorf("%w: AD_BIND_USER and AD_BIND_PASSWORD must be set together", common.ErrMisconfiguredProvider)
	}

	return &DirectoryVerifier{
		url:          strings.TrimSpace(cfg.URL),
		baseDN:       strings.TrimSpace(cfg.BaseDN),
		bindUser:     cfg.BindUser,
		bindPassword: cfg.BindPassword,
		userDomain:   strings.TrimSpace(cfg.UserDomain),
		attributes:   parseAttributeList(cfg.Attributes),
		timeout:      timeout,
		slots:        semaphore.NewWeighted(int64(poolSize)),
		dial:         dialLDAP,
		logger:       slog.Default().With("component", "directory"),
	}, nil
}

func (d *DirectoryVerifier) Provider() string {
	return "directory"
}

// Authenticate binds as the user and then searches for the user's entry,
// either on the same connection or on a second one bound as the service
// account. A failed search after a successful bind is reported as
// ErrServiceUnavailable since the credentials themselves were accepted.
func (d *DirectoryVerifier) Authenticate(ctx context.Context, username, password string) (*model.Identity, error) {
	username = strings.TrimSpace(username)
	if accountName(username) == "" || password == "" {
		return nil, common.ErrInvalidCredentials
	}

	if err := d.acquire(ctx); err != nil {
		return nil, err
	}
	defer d.slots.Release(1)

	return d.authenticate(username, password)
}

// Lookup re-reads the user's groups and attributes without a password. It
// needs the service account; without one it returns ErrLookupUnsupported.
func (d *DirectoryVerifier) Lookup(ctx context.Context, username string) (*model.Identity, error) {
	username = strings.TrimSpace(username)
	if accountName(username) == "" {
		return nil, common.ErrInvalidCredentials
	}
	if !d.hasServiceAccount() {
		return nil, common.ErrLookupUnsupported
	}

	if err := d.acquire(ctx); err != nil {
		return nil, err
	}
	defer d.slots.Release(1)

	conn, err := d.dial(d.url, d.timeout)
	if err != nil {
		return nil, classifyLDAPError(err)
	}
	defer d.release(conn, "service")

	if err := conn.Bind(d.bindUser, d.bindPassword); err != nil {
		d.logger.Error("service account bind failed", "bind_user", d.bindUser, "error", err)
		return nil, fmt.Errorf("%w: service account bind: %v", common.ErrServiceUnavailable, err)
	}

	identity, found, err := d.search(conn, username)
	if err != nil {
		return nil, fmt.Errorf("%w: user search: %v", common.ErrServiceUnavailable, err)
	}
	if !found {
		return nil, common.ErrInvalidCredentials
	}
	return identity, nil
}

func (d *DirectoryVerifier) authenticate(username, password string) (*model.Identity, error) {
	userConn, err := d.dial(d.url, d.timeout)
	if err != nil {
		d.logger.Error("directory unreachable", "url", d.url, "error", err)
		return nil, classifyLDAPError(err)
	}
	defer d.release(userConn, "user")

	if err := userConn.Bind(d.principal(username), password); err != nil {
		if ldap.IsErrorAnyOf(err, ldap.LDAPResultInvalidCredentials, ldap.ErrorEmptyPassword) {
			d.logger.Info("invalid credentials", "username", username)
			return nil, common.ErrInvalidCredentials
		}
		d.logger.Error("user bind failed", "username", username, "error", err)
		return nil, classifyLDAPError(err)
	}

	searchConn := userConn
	if d.hasServiceAccount() {
		svcConn, err := d.dial(d.url, d.timeout)
		if err != nil {
			d.logger.Error("service connection failed", "error", err)
			return nil, fmt.Errorf("%w: service connection: %v", common.ErrServiceUnavailable, err)
		}
		defer d.release(svcConn, "service")

		if err := svcConn.Bind(d.bindUser, d.bindPassword); err != nil {
			d.logger.Error("service account bind failed", "bind_user", d.bindUser, "error", err)
			return nil, fmt.Errorf("%w: service account bind: %v", common.ErrServiceUnavailable, err)
		}
		searchConn = svcConn
	}

	identity, found, err := d.search(searchConn, username)
	if err != nil {
		d.logger.Error("group search failed", "username", username, "error", err)
		return nil, fmt.Errorf("%w: group search: %v", common.ErrServiceUnavailable, err)
	}
	if !found {
		d.logger.Warn("authenticated user not found in search base", "username", username, "base_dn", d.baseDN)
	}

	d.logger.Info("directory authentication succeeded", "username", username, "groups", len(identity.Groups))
	return identity, nil
}

// search looks the user up by sAMAccountName. The returned identity always
// carries the bare account name, so a later Lookup finds the same entry.
func (d *DirectoryVerifier) search(conn ldapConn, username string) (*model.Identity, bool, error) {
	username = accountName(username)
	filter := fmt.Sprintf("(&(objectClass=user)(sAMAccountName=%s))", ldap.EscapeFilter(username))
	req := ldap.NewSearchRequest(
		d.baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		int(d.timeout.Seconds()),
		false,
		filter,
		append([]string{memberOfAttribute}, d.attributes...),
		nil,
	)

	result, err := conn.Search(req)
	if err != nil {
		return nil, false, err
	}

	identity := &model.Identity{Username: username, Groups: []string{}}
	if len(result.Entries) == 0 {
		return identity, false, nil
	}

	for _, attr := range result.Entries[0].Attributes {
		if strings.EqualFold(attr.Name, memberOfAttribute) {
			identity.Groups = append(identity.Groups, groupNames(attr.Values)...)
			continue
		}
		if len(attr.Values) == 0 {
			continue
		}
		if identity.Attributes == nil {
			identity.Attributes = model.Attributes{}
		}
		identity.Attributes[attr.Name] = model.AttributeValue(append([]string(nil), attr.Values...))
	}
	return identity, true, nil
}

func (d *DirectoryVerifier) acquire(ctx context.Context) error {
	if err := d.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: waiting for directory slot: %v", common.ErrServiceUnavailable, err)
	}
	return nil
}

// release unbinds conn. Errors are only logged so they never replace the
// authentication result.
func (d *DirectoryVerifier) release(conn ldapConn, label string) {
	if err := conn.Unbind(); err != nil {
		d.logger.Warn("failed to unbind directory connection", "conn", label, "error", err)
	}
}

func (d *DirectoryVerifier) hasServiceAccount() bool {
	return d.bindUser != "" && d.bindPassword != ""
}

func (d *DirectoryVerifier) principal(username string) string {
	if strings.ContainsAny(username, `@\`) || d.userDomain == "" {
		return username
	}
	return d.userDomain + `\` + username
}

// accountName strips a DOMAIN\ prefix or an @realm suffix.
func accountName(username string) string {
	if i := strings.LastIndex(username, `\`); i >= 0 {
		return username[i+1:]
	}
	if i := strings.Index(username, "@"); i >= 0 {
		return username[:i]
	}
	return username
}

func groupNames(dns []string) []string {
	groups := make([]string, 0, len(dns))
	for _, dn := range dns {
		if m := groupCNPattern.FindStringSubmatch(dn); m != nil {
			groups = append(groups, m[1])
		}
	}
	return groups
}

func classifyLDAPError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) ||
		ldap.IsErrorAnyOf(err, ldap.ErrorNetwork, ldap.LDAPResultBusy, ldap.LDAPResultUnavailable, ldap.LDAPResultUnwillingToPerform) {
		return fmt.Errorf("%w: %v", common.ErrServiceUnavailable, err)
	}
	return fmt.Errorf("%w: directory: %v", common.ErrInternal, err)
}

func parseAttributeList(value string) []string {
	var attrs []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" || strings.EqualFold(part, memberOfAttribute) {
			continue
		}
		attrs = append(attrs, part)
	}
	return attrs
}

func dialLDAP(url string, timeout time.Duration) (ldapConn, error) {
	conn, err := ldap.DialURL(url, ldap.DialWithDialer(&net.Dialer{Timeout: timeout}))
	if err != nil {
		return nil, err
	}
	conn.SetTimeout(timeout)
	return conn, nil
}
