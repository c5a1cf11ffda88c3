package service

import (
	"strings"
	"testing"

	"messenger/internal/db"
	"messenger/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testDB 为每个测试打开一个独立的内存 SQLite 数据库。
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := "file:" + name + "?mode=memory&cache=shared"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func mustRegister(t *testing.T, svc *IdentityService, username string) *models.User {
	t.Helper()
	u, err := svc.Register(username, username+"@example.com", "Test User", "password123", "")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return u
}
