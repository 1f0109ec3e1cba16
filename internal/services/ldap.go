package services

import (
	"crypto/tls"
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/huangang/claimwatch/internal/config"
)

// DirectoryAuthenticator verifies maintainer credentials against an external
// directory.
type DirectoryAuthenticator interface {
	Authenticate(login, password string) (*DirectoryUser, error)
}

type DirectoryUser struct {
	DN    string
	Login string
	Email string
	Name  string
}

type LDAPService struct {
	cfg *config.LDAPConfig
}

func NewLDAPService(cfg *config.LDAPConfig) *LDAPService {
	return &LDAPService{cfg: cfg}
}

// Authenticate looks the login up with the service account, then binds as
// the user to check the password.
func (s *LDAPService) Authenticate(login, password string) (*DirectoryUser, error) {
	if !s.cfg.Enabled {
		return nil, fmt.Errorf("LDAP is not enabled")
	}
	// An empty password would be an unauthenticated bind, which most servers accept.
	if password == "" {
		return nil, ErrInvalidCredentials
	}

	scheme := "ldap"
	if s.cfg.UseSSL {
		scheme = "ldaps"
	}
	conn, err := ldap.DialURL(fmt.Sprintf("%s://%s:%d", scheme, s.cfg.Host, s.cfg.Port),
		ldap.DialWithTLSConfig(&tls.Config{ServerName: s.cfg.Host}))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to LDAP server: %w", err)
	}
	defer conn.Close()

	if s.cfg.BindDN != "" {
		if err := conn.Bind(s.cfg.BindDN, s.cfg.BindPassword); err != nil {
			return nil, fmt.Errorf("failed to bind with service account: %w", err)
		}
	}

	req := ldap.NewSearchRequest(
		s.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 2, 0, false,
		fmt.Sprintf(s.cfg.UserFilter, ldap.EscapeFilter(login)),
		[]string{"dn", "cn", "mail", "uid", "sAMAccountName"},
		nil,
	)
	result, err := conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("LDAP search failed: %w", err)
	}
	if len(result.Entries) != 1 {
		return nil, ErrInvalidCredentials
	}

	entry := result.Entries[0]
	if err := conn.Bind(entry.DN, password); err != nil {
		return nil, ErrInvalidCredentials
	}

	user := &DirectoryUser{
		DN:    entry.DN,
		Login: entry.GetAttributeValue("uid"),
		Email: entry.GetAttributeValue("mail"),
		Name:  entry.GetAttributeValue("cn"),
	}
	// Active Directory
	if user.Login == "" {
		user.Login = entry.GetAttributeValue("sAMAccountName")
	}
	if user.Login == "" {
		user.Login = login
	}
	return user, nil
}
