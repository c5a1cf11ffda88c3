package models

import "time"

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	Email        string `gorm:"size:255"`
	FullName     string `gorm:"size:255"`
	Bio          string `gorm:"type:text"`
	PasswordHash string `gorm:"not null"`
	IsAdmin      bool   `gorm:"not null;default:false"`
	IsBanned     bool   `gorm:"not null;default:false"`
	BanReason    string `gorm:"size:255"`
	BannedUntil  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Session struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	IssuedAt  time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}

type Message struct {
	ID          uint   `gorm:"primaryKey"`
	ConvKey     string `gorm:"index:idx_msg_conv;size:64;not null"`
	SenderID    uint   `gorm:"index;not null"`
	ReceiverID  uint   `gorm:"index;not null"`
	Content     string `gorm:"type:text;not null"`
	MessageType string `gorm:"size:16;not null"`
	IsRead      bool   `gorm:"not null;default:false"`
	ReadAt      *time.Time
	CreatedAt   time.Time
}

type Block struct {
	ID        uint `gorm:"primaryKey"`
	BlockerID uint `gorm:"uniqueIndex:idx_block_pair;not null"`
	BlockedID uint `gorm:"uniqueIndex:idx_block_pair;not null"`
	CreatedAt time.Time
}

type AuditLog struct {
	ID        uint   `gorm:"primaryKey"`
	AdminID   uint   `gorm:"index;not null"`
	Action    string `gorm:"size:64;not null"`
	UserAID   uint
	UserBID   uint
	CreatedAt time.Time
}
