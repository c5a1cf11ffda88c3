package service

import (
	"time"

	"messenger/internal/models"

	"gorm.io/gorm"
)

// AdminService 在身份与会话服务之上提供特权操作。
// 所有入口都先经过 Authorize，越权读取会话内容必须留下审计记录。
type AdminService struct {
	db       *gorm.DB
	sessions *SessionService
	identity *IdentityService
	convs    *ConversationService
}

func NewAdminService(db *gorm.DB, sessions *SessionService, identity *IdentityService, convs *ConversationService) *AdminService {
	return &AdminService{db: db, sessions: sessions, identity: identity, convs: convs}
}

// Authorize 校验令牌并要求其所属用户为管理员，否则返回 ErrForbidden。
func (s *AdminService) Authorize(token string) (*models.User, error) {
	user, err := s.sessions.Validate(token)
	if err != nil {
		return nil, err
	}
	if !user.IsAdmin {
		return nil, ErrForbidden
	}
	return user, nil
}

// ListUsers 返回用户列表，不含凭证信息。批量读取用户资料同样先留痕。
func (s *AdminService) ListUsers(admin *models.User, limit int) ([]UserDTO, error) {
	entry := models.AuditLog{AdminID: admin.ID, Action: "list_users"}
	if err := s.db.Create(&entry).Error; err != nil {
		return nil, err
	}
	return s.identity.List(limit)
}

// ReadConversation 读取任意两人之间的消息。这是绕过参与者限制的特权路径，
// 先写审计记录再执行读取，读取失败也会留痕。
func (s *AdminService) ReadConversation(admin *models.User, userA, userB uint) ([]MessageDTO, error) {
	entry := models.AuditLog{
		AdminID: admin.ID,
		Action:  "read_conversation",
		UserAID: userA,
		UserBID: userB,
	}
	if err := s.db.Create(&entry).Error; err != nil {
		return nil, err
	}
	return s.convs.Fetch(userA, userB, 200, 0)
}

// BanUser 封禁用户并记录审计。duration 为 0 表示永久。
func (s *AdminService) BanUser(admin *models.User, targetID uint, reason string, duration time.Duration) (*BanRecord, error) {
	rec, err := s.identity.Ban(targetID, reason, duration)
	if err != nil {
		return nil, err
	}
	entry := models.AuditLog{AdminID: admin.ID, Action: "ban_user", UserAID: targetID}
	if err := s.db.Create(&entry).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

// UnbanUser 解除封禁并记录审计。
func (s *AdminService) UnbanUser(admin *models.User, targetID uint) error {
	if err := s.identity.Unban(targetID); err != nil {
		return err
	}
	entry := models.AuditLog{AdminID: admin.ID, Action: "unban_user", UserAID: targetID}
	return s.db.Create(&entry).Error
}

// AuditDTO 是对外输出的审计记录。
type AuditDTO struct {
	ID        uint      `json:"id"`
	AdminID   uint      `json:"admin_id"`
	Action    string    `json:"action"`
	UserAID   uint      `json:"user_a_id,omitempty"`
	UserBID   uint      `json:"user_b_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Audit 返回最近的审计记录，按时间倒序。审计记录本身就是监督的依据，
// 读取它不再追加记录，否则每次巡查都会污染时间线。
func (s *AdminService) Audit(limit int) ([]AuditDTO, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []models.AuditLog
	if err := s.db.Order("id desc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	out := make([]AuditDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditDTO{
			ID:        e.ID,
			AdminID:   e.AdminID,
			Action:    e.Action,
			UserAID:   e.UserAID,
			UserBID:   e.UserBID,
			CreatedAt: e.CreatedAt,
		})
	}
	return out, nil
}
