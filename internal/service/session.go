package service

import (
	"errors"
	"time"

	"messenger/internal/auth"
	"messenger/internal/config"
	"messenger/internal/models"

	"gorm.io/gorm"
)

// SessionService 负责会话令牌的签发、校验与吊销。
// 令牌是不透明的随机串，校验时总是回查用户的实时封禁状态。
type SessionService struct {
	db      *gorm.DB
	ttl     time.Duration
	sliding bool
}

func NewSessionService(db *gorm.DB, cfg config.Config) *SessionService {
	return &SessionService{
		db:      db,
		ttl:     time.Duration(cfg.SessionTTLHours) * time.Hour,
		sliding: cfg.SlidingExpiry,
	}
}

// Issue 为用户签发新会话令牌。
func (s *SessionService) Issue(userID uint) (string, error) {
	token, err := auth.NewSessionToken()
	if err != nil {
		return "", err
	}
	now := time.Now()
	sess := models.Session{
		UserID:    userID,
		Token:     token,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.db.Create(&sess).Error; err != nil {
		return "", err
	}
	return token, nil
}

// Validate 校验令牌并返回其所属用户。未知、已吊销或过期的令牌返回
// ErrInvalidToken；用户被封禁时立即返回 ErrAccountBanned，不等令牌过期。
func (s *SessionService) Validate(token string) (*models.User, error) {
	now := time.Now()
	var sess models.Session
	err := s.db.Where("token = ? AND revoked_at IS NULL AND expires_at > ?", token, now).First(&sess).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	var user models.User
	if err := s.db.First(&user, sess.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if Banned(&user, now) {
		return nil, ErrAccountBanned
	}
	if s.sliding {
		if err := s.db.Model(&sess).Update("expires_at", now.Add(s.ttl)).Error; err != nil {
			return nil, err
		}
	}
	return &user, nil
}

// Revoke 吊销令牌，幂等。
func (s *SessionService) Revoke(token string) error {
	now := time.Now()
	return s.db.Model(&models.Session{}).
		Where("token = ? AND revoked_at IS NULL", token).
		Update("revoked_at", &now).Error
}
