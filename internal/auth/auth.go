// Package auth 为 intentd 的 REST 接口提供基于 API Key 的身份认证与权限校验。
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"DeFiIntent-Chain/pkg/logger"
)

// Common errors returned by the authentication subsystem.
var (
	ErrDisabled         = errors.New("authentication disabled")
	ErrMissingToken     = errors.New("missing api key")
	ErrInvalidToken     = errors.New("invalid api key")
	ErrPermissionDenied = errors.New("permission denied")
	ErrSubjectRevoked   = errors.New("api key is disabled")
)

// 接口权限。
const (
	PermissionParse      = "intents:parse"
	PermissionTurnsWrite = "turns:write"
	PermissionTurnsRead  = "turns:read"
	PermissionAll        = "*"
)

// Mode 表示认证模式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeAPIKey   Mode = "api_key"
)

// Config 描述认证配置。
type Config struct {
	Mode Mode        `json:"mode" validate:"omitempty,oneof=disabled api_key"`
	Keys []KeyConfig `json:"keys" validate:"dive"`
}

// KeyConfig 描述一个调用方。Key 与 KeySHA256 二选一，后者为十六进制摘要。
type KeyConfig struct {
	Name        string   `json:"name" validate:"required"`
	Key         string   `json:"key,omitempty"`
	KeySHA256   string   `json:"key_sha256,omitempty" validate:"omitempty,len=64,hexadecimal"`
	Permissions []string `json:"permissions"`
	Disabled    bool     `json:"disabled"`
}

// Subject 是通过认证的调用方。
type Subject struct {
	Name        string
	Permissions []string
	Disabled    bool
}

// HasPermission 判断调用方是否具备权限，"*" 代表全部权限。
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	for _, p := range s.Permissions {
		if p == PermissionAll || strings.EqualFold(p, permission) {
			return true
		}
	}
	return false
}

// Authorize 要求调用方具备全部给定权限。
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrPermissionDenied
	}
	if s.Disabled {
		return ErrSubjectRevoked
	}
	for _, p := range perms {
		if !s.HasPermission(p) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, p)
		}
	}
	return nil
}

type keyEntry struct {
	digest  []byte
	subject Subject
}

// Service 校验请求携带的 API Key。
type Service struct {
	mode  Mode
	keys  []keyEntry
	audit *slog.Logger
}

// NewService 构造认证服务。模式为空时视为关闭。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(string(cfg.Mode)))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, audit: logger.Audit()}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeAPIKey:
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}

	if len(cfg.Keys) == 0 {
		return nil, errors.New("api_key mode requires at least one key")
	}
	for _, k := range cfg.Keys {
		digest, err := keyDigest(k)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", k.Name, err)
		}
		svc.keys = append(svc.keys, keyEntry{
			digest:  digest,
			subject: Subject{Name: k.Name, Permissions: append([]string(nil), k.Permissions...), Disabled: k.Disabled},
		})
	}
	return svc, nil
}

func keyDigest(k KeyConfig) ([]byte, error) {
	switch {
	case k.KeySHA256 != "":
		return hex.DecodeString(strings.ToLower(k.KeySHA256))
	case k.Key != "":
		sum := sha256.Sum256([]byte(k.Key))
		return sum[:], nil
	default:
		return nil, errors.New("key or key_sha256 must be set")
	}
}

// HashKey 返回 API Key 的十六进制 SHA-256 摘要，用于填写 key_sha256。
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Mode 返回当前认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Enabled 判断是否需要认证。
func (s *Service) Enabled() bool {
	return s.Mode() != ModeDisabled
}

// Authenticate 根据 API Key 查找调用方。
func (s *Service) Authenticate(key string) (*Subject, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrMissingToken
	}
	sum := sha256.Sum256([]byte(key))
	for i := range s.keys {
		if subtle.ConstantTimeCompare(sum[:], s.keys[i].digest) == 1 {
			subject := s.keys[i].subject
			if subject.Disabled {
				return nil, ErrSubjectRevoked
			}
			return &subject, nil
		}
	}
	return nil, ErrInvalidToken
}

// KeyFromHeaders 依次读取 X-API-Key 与 Bearer 形式的 Authorization 头。
func KeyFromHeaders(apiKey, authorization string) string {
	if key := strings.TrimSpace(apiKey); key != "" {
		return key
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
