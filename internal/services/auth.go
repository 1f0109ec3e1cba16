package services

import (
	"errors"
	"strings"
	"time"

	"github.com/huangang/claimwatch/internal/config"
	"github.com/huangang/claimwatch/internal/utils"
	"github.com/huangang/claimwatch/pkg/logger"
)

const (
	RoleMaintainer = "maintainer"
	RoleAdmin      = "admin"
)

// Maintainer is someone allowed to override the monitor.
type Maintainer struct {
	Login  string `json:"login"`
	Role   string `json:"role"`
	Source string `json:"source"` // local, ldap
}

type LoginRequest struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResult struct {
	Token      string      `json:"token"`
	ExpireAt   time.Time   `json:"expire_at"`
	Maintainer *Maintainer `json:"maintainer"`
}

// MaintainerAuth checks credentials against the configured maintainer list
// and, when enabled, the LDAP directory.
type MaintainerAuth struct {
	local      map[string]config.MaintainerConfig
	directory  DirectoryAuthenticator
	tokenHours int
}

func NewMaintainerAuth(cfg *config.Config) *MaintainerAuth {
	a := &MaintainerAuth{
		local:      make(map[string]config.MaintainerConfig, len(cfg.Maintainers)),
		tokenHours: cfg.JWT.ExpireHour,
	}
	for _, m := range cfg.Maintainers {
		a.local[strings.ToLower(m.Login)] = m
	}
	if cfg.LDAP.Enabled {
		a.directory = NewLDAPService(&cfg.LDAP)
	}
	return a
}

// WithDirectory replaces the directory backend.
func (a *MaintainerAuth) WithDirectory(d DirectoryAuthenticator) *MaintainerAuth {
	a.directory = d
	return a
}

func (a *MaintainerAuth) DirectoryEnabled() bool { return a.directory != nil }

func (a *MaintainerAuth) Login(req *LoginRequest) (*LoginResult, error) {
	m, err := a.authenticate(strings.TrimSpace(req.Login), req.Password)
	if err != nil {
		logger.Warn().Str("login", req.Login).Err(err).Msg("[Auth] Login rejected")
		return nil, ErrInvalidCredentials
	}

	hours := a.tokenHours
	if hours <= 0 {
		hours = 24
	}
	token, err := utils.GenerateToken(m.Login, m.Role, hours)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("login", m.Login).Str("source", m.Source).Msg("[Auth] Maintainer logged in")
	return &LoginResult{
		Token:      token,
		ExpireAt:   time.Now().Add(time.Duration(hours) * time.Hour),
		Maintainer: m,
	}, nil
}

func (a *MaintainerAuth) authenticate(login, password string) (*Maintainer, error) {
	if login == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	if m, ok := a.local[strings.ToLower(login)]; ok {
		if !utils.CheckPassword(password, m.PasswordHash) {
			return nil, ErrInvalidCredentials
		}
		return &Maintainer{Login: m.Login, Role: m.Role, Source: "local"}, nil
	}
	if a.directory == nil {
		return nil, errors.New("unknown maintainer")
	}
	u, err := a.directory.Authenticate(login, password)
	if err != nil {
		return nil, err
	}
	return &Maintainer{Login: u.Login, Role: RoleMaintainer, Source: "ldap"}, nil
}
