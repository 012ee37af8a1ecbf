package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// 认证子系统的公共错误。
var (
	ErrDisabled         = errors.New("authentication disabled")
	ErrMissingToken     = errors.New("missing bearer token")
	ErrInvalidToken     = errors.New("invalid token")
	ErrPermissionDenied = errors.New("permission denied")
)

// Mode 枚举支持的认证方式。
type Mode string

const (
	// ModeDisabled 关闭认证，所有请求直接放行。
	ModeDisabled Mode = "disabled"
	// ModeStatic 使用配置文件中的静态令牌表。
	ModeStatic Mode = "static"
	// ModeJWT 使用本地签发的 HS256 JWT。
	ModeJWT Mode = "jwt"
)

// Subject 描述通过认证的调用方，随请求上下文传递。
type Subject struct {
	Name        string
	Permissions []string

	permSet map[string]struct{}
}

func (s *Subject) normalize() {
	if s == nil || s.permSet != nil {
		return
	}
	s.permSet = make(map[string]struct{}, len(s.Permissions))
	for _, perm := range s.Permissions {
		s.permSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
	}
}

// HasPermission 判断调用方是否持有指定权限。
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.normalize()
	_, ok := s.permSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize 校验调用方持有全部所需权限。
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}

// StaticToken 是配置文件中声明的一个令牌条目。
type StaticToken struct {
	Token       string
	Name        string
	Permissions []string
}

// Config 配置认证服务。
type Config struct {
	Mode   Mode
	Tokens []StaticToken
	JWT    JWTOptions
}

// JWTOptions 控制本地 JWT 的签发与校验。
type JWTOptions struct {
	Secret    string
	Issuer    string
	AccessTTL int64
}

// Service 校验请求中的凭证并解析出调用方身份。
type Service struct {
	mode   Mode
	tokens map[string]*Subject
	jwt    *jwtSigner
}

// NewService 构造认证服务。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(string(cfg.Mode)))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode}
	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeStatic:
		if len(cfg.Tokens) == 0 {
			return nil, errors.New("static auth requires at least one token")
		}
		svc.tokens = make(map[string]*Subject, len(cfg.Tokens))
		for _, entry := range cfg.Tokens {
			token := strings.TrimSpace(entry.Token)
			if token == "" {
				return nil, errors.New("static token cannot be empty")
			}
			subject := &Subject{Name: entry.Name, Permissions: entry.Permissions}
			subject.normalize()
			svc.tokens[token] = subject
		}
		return svc, nil
	case ModeJWT:
		if strings.TrimSpace(cfg.JWT.Secret) == "" {
			return nil, errors.New("jwt secret must be configured")
		}
		ttl := cfg.JWT.AccessTTL
		if ttl <= 0 {
			ttl = 3600
		}
		svc.jwt = &jwtSigner{
			secret: []byte(cfg.JWT.Secret),
			issuer: cfg.JWT.Issuer,
			ttl:    time.Duration(ttl) * time.Second,
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

// Mode 返回当前认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Enabled 报告认证是否开启。
func (s *Service) Enabled() bool {
	return s != nil && s.mode != ModeDisabled
}

// AuthenticateRequest 解析 Authorization 头并返回调用方身份。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	switch s.mode {
	case ModeStatic:
		subject, ok := s.tokens[token]
		if !ok {
			return nil, ErrInvalidToken
		}
		clone := &Subject{Name: subject.Name, Permissions: append([]string(nil), subject.Permissions...)}
		clone.normalize()
		return clone, nil
	case ModeJWT:
		return s.jwt.verify(token)
	default:
		return nil, ErrDisabled
	}
}

// IssueToken 在 JWT 模式下签发访问令牌，供运维脚本使用。
func (s *Service) IssueToken(subject *Subject) (string, error) {
	if s == nil || s.mode != ModeJWT || s.jwt == nil {
		return "", ErrDisabled
	}
	return s.jwt.sign(subject)
}

const jwtHeaderJSON = `{"alg":"HS256","typ":"JWT"}`

var encodedJWTHeader = base64.RawURLEncoding.EncodeToString([]byte(jwtHeaderJSON))

type jwtSigner struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

type jwtClaims struct {
	Subject     string   `json:"sub"`
	Issuer      string   `json:"iss,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	IssuedAt    int64    `json:"iat"`
	ExpiresAt   int64    `json:"exp"`
}

func (m *jwtSigner) sign(subject *Subject) (string, error) {
	if subject == nil {
		return "", errors.New("subject required")
	}
	now := time.Now().Unix()
	claims := jwtClaims{
		Subject:     subject.Name,
		Issuer:      m.issuer,
		Permissions: append([]string(nil), subject.Permissions...),
		IssuedAt:    now,
		ExpiresAt:   now + int64(m.ttl.Seconds()),
	}
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signature := m.signature(encodedJWTHeader, payload)
	return encodedJWTHeader + "." + payload + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

func (m *jwtSigner) verify(token string) (*Subject, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	expected := m.signature(parts[0], parts[1])
	actual, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	if subtle.ConstantTimeCompare(expected, actual) != 1 {
		return nil, ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims jwtClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	now := time.Now().Unix()
	if claims.ExpiresAt != 0 && now > claims.ExpiresAt {
		return nil, ErrInvalidToken
	}
	if m.issuer != "" && claims.Issuer != "" && !strings.EqualFold(m.issuer, claims.Issuer) {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	subject := &Subject{Name: claims.Subject, Permissions: claims.Permissions}
	subject.normalize()
	return subject, nil
}

func (m *jwtSigner) signature(header, payload string) []byte {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(header))
	mac.Write([]byte("."))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}
