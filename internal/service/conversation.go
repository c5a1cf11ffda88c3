package service

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"messenger/internal/metrics"
	"messenger/internal/models"

	"gorm.io/gorm"
)

// Notifier 在消息落库后收到通知，推送过程不得阻塞写入方。
type Notifier interface {
	Publish(receiverID uint, payload []byte)
}

// ConversationService 管理按用户对组织的私信会话：追加、分页查询、已读标记。
// 同一会话的追加由独立的锁串行化，不同会话互不影响。
type ConversationService struct {
	db       *gorm.DB
	notifier Notifier

	mu   sync.RWMutex
	seqs map[string]*convSeq
}

type convSeq struct {
	mu     sync.Mutex
	lastAt time.Time
}

func NewConversationService(db *gorm.DB, notifier Notifier) *ConversationService {
	return &ConversationService{db: db, notifier: notifier, seqs: make(map[string]*convSeq)}
}

// ConversationKey 将无序的用户对归一化为唯一键，(A,B) 与 (B,A) 得到同一会话。
func ConversationKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// seq 懒加载会话的追加锁，模式与 ws.Hub 的按需建 hub 一致。
func (s *ConversationService) seq(key string) *convSeq {
	s.mu.RLock()
	sq := s.seqs[key]
	s.mu.RUnlock()
	if sq != nil {
		return sq
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sq = s.seqs[key]
	if sq != nil {
		return sq
	}
	sq = &convSeq{}
	s.seqs[key] = sq
	return sq
}

// MessageDTO 是对外输出的消息数据。
type MessageDTO struct {
	Type        string     `json:"type"`
	ID          uint       `json:"id"`
	SenderID    uint       `json:"sender_id"`
	ReceiverID  uint       `json:"receiver_id"`
	Content     string     `json:"content"`
	MessageType string     `json:"message_type"`
	CreatedAt   time.Time  `json:"created_at"`
	IsRead      bool       `json:"is_read"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

func toMessageDTO(m *models.Message) MessageDTO {
	return MessageDTO{
		Type:        "message",
		ID:          m.ID,
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		Content:     m.Content,
		MessageType: m.MessageType,
		CreatedAt:   m.CreatedAt,
		IsRead:      m.IsRead,
		ReadAt:      m.ReadAt,
	}
}

// Append 向会话追加一条消息。会话内的消息 ID 严格递增、created_at 单调不减。
// 任一方拉黑对方时返回 ErrBlockedPair。落库成功后异步通知接收方。
func (s *ConversationService) Append(senderID, receiverID uint, content, messageType string) (*MessageDTO, error) {
	if senderID == 0 || receiverID == 0 || senderID == receiverID {
		return nil, fmt.Errorf("%w: bad sender/receiver pair", ErrValidation)
	}
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrValidation)
	}
	if messageType == "" {
		messageType = "text"
	}
	if messageType != "text" && messageType != "other" {
		return nil, fmt.Errorf("%w: unknown message type", ErrValidation)
	}

	var blocked int64
	err := s.db.Model(&models.Block{}).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)",
			senderID, receiverID, receiverID, senderID).
		Count(&blocked).Error
	if err != nil {
		return nil, err
	}
	if blocked > 0 {
		return nil, ErrBlockedPair
	}

	key := ConversationKey(senderID, receiverID)
	sq := s.seq(key)
	sq.mu.Lock()
	now := time.Now()
	if now.Before(sq.lastAt) {
		now = sq.lastAt
	}
	msg := models.Message{
		ConvKey:     key,
		SenderID:    senderID,
		ReceiverID:  receiverID,
		Content:     content,
		MessageType: messageType,
		CreatedAt:   now,
	}
	for attempt := 0; attempt < 3; attempt++ {
		if err = s.db.Create(&msg).Error; err == nil {
			break
		}
	}
	if err == nil {
		sq.lastAt = now
	}
	sq.mu.Unlock()
	if err != nil {
		return nil, err
	}

	metrics.MessagesTotal.Inc()
	dto := toMessageDTO(&msg)
	if s.notifier != nil {
		if payload, merr := json.Marshal(dto); merr == nil {
			s.notifier.Publish(receiverID, payload)
		}
	}
	return &dto, nil
}

// Fetch 分页查询两人之间的消息，按 ID 升序返回最近 limit 条。
// before_id 用作游标，只返回严格小于它的消息。
func (s *ConversationService) Fetch(userA, userB uint, limit int, beforeID uint) ([]MessageDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.Where("conv_key = ?", ConversationKey(userA, userB))
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var msgs []models.Message
	if err := q.Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}

	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	out := make([]MessageDTO, 0, len(msgs))
	for i := range msgs {
		out = append(out, toMessageDTO(&msgs[i]))
	}
	return out, nil
}

// MarkRead 将 reader 收到的未读消息置为已读，返回实际转换的条数。
// 不属于 reader 或已读的 ID 被忽略，重复调用返回 0。
func (s *ConversationService) MarkRead(messageIDs []uint, readerID uint) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	now := time.Now()
	res := s.db.Model(&models.Message{}).
		Where("id IN ? AND receiver_id = ? AND is_read = ?", messageIDs, readerID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": &now})
	return res.RowsAffected, res.Error
}

// Block 拉黑用户，重复拉黑无副作用。
func (s *ConversationService) Block(blockerID, blockedID uint) error {
	if blockerID == 0 || blockedID == 0 || blockerID == blockedID {
		return fmt.Errorf("%w: bad block pair", ErrValidation)
	}
	var count int64
	err := s.db.Model(&models.Block{}).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return s.db.Create(&models.Block{BlockerID: blockerID, BlockedID: blockedID}).Error
}

// Unblock 解除拉黑，幂等。
func (s *ConversationService) Unblock(blockerID, blockedID uint) error {
	return s.db.
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Delete(&models.Block{}).Error
}
