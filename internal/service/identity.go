package service

import (
	"errors"
	"time"

	"messenger/internal/auth"
	"messenger/internal/models"

	"gorm.io/gorm"
)

// IdentityService 封装用户账号、凭证与封禁状态相关的业务逻辑。
type IdentityService struct {
	db *gorm.DB
}

func NewIdentityService(db *gorm.DB) *IdentityService {
	return &IdentityService{db: db}
}

// UserDTO 是对外输出的用户数据，不包含凭证信息。
type UserDTO struct {
	ID          uint       `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	FullName    string     `json:"full_name"`
	Bio         string     `json:"bio"`
	IsAdmin     bool       `json:"is_admin"`
	IsBanned    bool       `json:"is_banned"`
	BannedUntil *time.Time `json:"banned_until,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func ToUserDTO(u *models.User) UserDTO {
	return UserDTO{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		FullName:    u.FullName,
		Bio:         u.Bio,
		IsAdmin:     u.IsAdmin,
		IsBanned:    u.IsBanned,
		BannedUntil: u.BannedUntil,
		CreatedAt:   u.CreatedAt,
	}
}

// Banned 判断用户当前是否处于封禁状态。banned_until 为空表示永久封禁。
func Banned(u *models.User, now time.Time) bool {
	if !u.IsBanned {
		return false
	}
	return u.BannedUntil == nil || u.BannedUntil.After(now)
}

// Register 注册新用户，用户名重复时返回 ErrDuplicateUsername。
func (s *IdentityService) Register(username, email, fullName, password, bio string) (*models.User, error) {
	var count int64
	if err := s.db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrDuplicateUsername
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := models.User{
		Username:     username,
		Email:        email,
		FullName:     fullName,
		Bio:          bio,
		PasswordHash: hash,
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Authenticate 校验用户名密码。封禁中的账号返回 ErrAccountBanned。
func (s *IdentityService) Authenticate(username, password string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if Banned(&user, time.Now()) {
		return nil, ErrAccountBanned
	}
	return &user, nil
}

// BanRecord 封禁操作的结果。BannedUntil 为空表示永久。
type BanRecord struct {
	UserID      uint       `json:"user_id"`
	Reason      string     `json:"reason"`
	BannedUntil *time.Time `json:"banned_until,omitempty"`
}

// Ban 封禁用户。duration 为 0 表示永久封禁；重复封禁会更新原因和时长。
func (s *IdentityService) Ban(userID uint, reason string, duration time.Duration) (*BanRecord, error) {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var until *time.Time
	if duration > 0 {
		t := time.Now().Add(duration)
		until = &t
	}
	updates := map[string]interface{}{
		"is_banned":    true,
		"ban_reason":   reason,
		"banned_until": until,
	}
	if err := s.db.Model(&user).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &BanRecord{UserID: userID, Reason: reason, BannedUntil: until}, nil
}

// Unban 解除封禁，对未封禁的用户是无副作用的。
func (s *IdentityService) Unban(userID uint) error {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	updates := map[string]interface{}{
		"is_banned":    false,
		"ban_reason":   "",
		"banned_until": nil,
	}
	return s.db.Model(&user).Updates(updates).Error
}

// Get 按 ID 查询用户。
func (s *IdentityService) Get(userID uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// List 返回用户列表，按 ID 升序。
func (s *IdentityService) List(limit int) ([]UserDTO, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var users []models.User
	if err := s.db.Order("id asc").Limit(limit).Find(&users).Error; err != nil {
		return nil, err
	}
	out := make([]UserDTO, 0, len(users))
	for i := range users {
		out = append(out, ToUserDTO(&users[i]))
	}
	return out, nil
}
