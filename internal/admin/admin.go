package admin

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/playrooms/backend/internal/models"
	"golang.org/x/crypto/bcrypt"
)

var ErrBadCredentials = errors.New("invalid username or password")

// Authenticate validates an admin login against admin_users.
func Authenticate(db *sqlx.DB, username, password string) (*models.AdminUser, error) {
	var user models.AdminUser
	err := db.Get(&user, `
		SELECT id, username, password_hash, role, created_at
		FROM admin_users WHERE username = $1
	`, username)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Printf("[ADMIN] No admin account for username: %s", username)
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("load admin account: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		log.Printf("[ADMIN] Password check failed for: %s", username)
		return nil, ErrBadCredentials
	}
	return &user, nil
}

// CreateAdminUser inserts or refreshes an operator account (used by the seeder).
func CreateAdminUser(db *sqlx.DB, username, password, role string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO admin_users (username, password_hash, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role
	`, username, string(hash), role)
	return err
}

// LogAction records an admin action in the audit log. Audit write failures
// are logged but never fail the action itself.
func LogAction(db *sqlx.DB, adminID int, action string, details map[string]any) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		detailsJSON = []byte("{}")
	}

	if _, err := db.Exec(`
		INSERT INTO admin_audit (admin_id, action, details)
		VALUES ($1, $2, $3)
	`, adminID, action, detailsJSON); err != nil {
		log.Printf("[ADMIN] Failed to write audit entry for %q: %v", action, err)
	}
}

// RecentAudit returns the newest audit entries, paged.
func RecentAudit(db *sqlx.DB, limit, offset int) ([]models.AdminAuditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	entries := []models.AdminAuditEntry{}
	err := db.Select(&entries, `
		SELECT id, admin_id, action, details, created_at
		FROM admin_audit
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	return entries, err
}
