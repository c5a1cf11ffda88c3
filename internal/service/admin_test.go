package service

import (
	"errors"
	"testing"
	"time"

	"messenger/internal/models"

	"gorm.io/gorm"
)

func adminFixture(t *testing.T) (*gorm.DB, *AdminService, *SessionService, *models.User, *models.User, *models.User) {
	t.Helper()
	gdb := testDB(t)
	identity := NewIdentityService(gdb)
	sessions := NewSessionService(gdb, sessionCfg())
	convs := NewConversationService(gdb, nil)
	admin := NewAdminService(gdb, sessions, identity, convs)

	root := mustRegister(t, identity, "root")
	if err := gdb.Model(&models.User{}).Where("id = ?", root.ID).Update("is_admin", true).Error; err != nil {
		t.Fatalf("promote admin: %v", err)
	}
	root.IsAdmin = true

	alice := mustRegister(t, identity, "alice")
	bob := mustRegister(t, identity, "bob")
	return gdb, admin, sessions, root, alice, bob
}

func TestAuthorize(t *testing.T) {
	_, admin, sessions, root, alice, _ := adminFixture(t)

	adminToken, err := sessions.Issue(root.ID)
	if err != nil {
		t.Fatalf("issue admin token: %v", err)
	}
	userToken, err := sessions.Issue(alice.ID)
	if err != nil {
		t.Fatalf("issue user token: %v", err)
	}

	principal, err := admin.Authorize(adminToken)
	if err != nil {
		t.Fatalf("Authorize() admin error = %v", err)
	}
	if principal.ID != root.ID {
		t.Errorf("Authorize() principal = %d, want %d", principal.ID, root.ID)
	}

	if _, err := admin.Authorize(userToken); !errors.Is(err, ErrForbidden) {
		t.Errorf("Authorize() non-admin error = %v, want ErrForbidden", err)
	}
	if _, err := admin.Authorize("bogus"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Authorize() bad token error = %v, want ErrInvalidToken", err)
	}
}

func TestReadConversation_WritesAudit(t *testing.T) {
	gdb, admin, _, root, alice, bob := adminFixture(t)

	convs := NewConversationService(gdb, nil)
	if _, err := convs.Append(alice.ID, bob.ID, "secret one", "text"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := convs.Append(bob.ID, alice.ID, "secret two", "text"); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := admin.ReadConversation(root, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("read conversation: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("ReadConversation() returned %d messages, want 2", len(msgs))
	}

	var entries []models.AuditLog
	if err := gdb.Where("admin_id = ? AND action = ?", root.ID, "read_conversation").Find(&entries).Error; err != nil {
		t.Fatalf("load audit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	if entries[0].UserAID != alice.ID || entries[0].UserBID != bob.ID {
		t.Errorf("audit pair = (%d,%d), want (%d,%d)", entries[0].UserAID, entries[0].UserBID, alice.ID, bob.ID)
	}
}

func TestBanAndUnbanUser(t *testing.T) {
	gdb, admin, sessions, root, alice, _ := adminFixture(t)

	rec, err := admin.BanUser(root, alice.ID, "spam", time.Minute)
	if err != nil {
		t.Fatalf("ban: %v", err)
	}
	if rec.BannedUntil == nil {
		t.Error("BanUser() with duration should set BannedUntil")
	}

	// 被封用户的既有会话立即失效
	token, err := sessions.Issue(alice.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := sessions.Validate(token); !errors.Is(err, ErrAccountBanned) {
		t.Errorf("Validate() banned error = %v, want ErrAccountBanned", err)
	}

	if err := admin.UnbanUser(root, alice.ID); err != nil {
		t.Fatalf("unban: %v", err)
	}
	if _, err := sessions.Validate(token); err != nil {
		t.Errorf("Validate() after unban error = %v", err)
	}

	var count int64
	if err := gdb.Model(&models.AuditLog{}).Where("admin_id = ?", root.ID).Count(&count).Error; err != nil {
		t.Fatalf("count audit: %v", err)
	}
	if count != 2 {
		t.Errorf("audit entries = %d, want 2 (ban + unban)", count)
	}
}

func TestListUsers(t *testing.T) {
	gdb, admin, _, root, _, _ := adminFixture(t)

	users, err := admin.ListUsers(root, 10)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 3 {
		t.Errorf("ListUsers() returned %d, want 3", len(users))
	}

	// 批量读取用户资料必须留下归属到该管理员的审计记录
	var count int64
	if err := gdb.Model(&models.AuditLog{}).Where("admin_id = ? AND action = ?", root.ID, "list_users").Count(&count).Error; err != nil {
		t.Fatalf("count audit: %v", err)
	}
	if count != 1 {
		t.Errorf("list_users audit entries = %d, want 1", count)
	}
}

func TestAudit_Listing(t *testing.T) {
	_, admin, _, root, alice, bob := adminFixture(t)

	if _, err := admin.ReadConversation(root, alice.ID, bob.ID); err != nil {
		t.Fatalf("read conversation: %v", err)
	}
	if _, err := admin.BanUser(root, bob.ID, "spam", 0); err != nil {
		t.Fatalf("ban: %v", err)
	}

	entries, err := admin.Audit(10)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Audit() returned %d entries, want 2", len(entries))
	}
	// 按时间倒序，最近的操作在前
	if entries[0].Action != "ban_user" || entries[1].Action != "read_conversation" {
		t.Errorf("Audit() order = [%s %s]", entries[0].Action, entries[1].Action)
	}

	// 读取审计不会追加新记录
	again, err := admin.Audit(10)
	if err != nil {
		t.Fatalf("second audit: %v", err)
	}
	if len(again) != 2 {
		t.Errorf("Audit() after re-read returned %d entries, want 2", len(again))
	}
}
