package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"uplift/api/internal/content"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- accounts ----

const accountColumns = `id, display_name, email, password_hash, is_email_verified,
	verification_token, verification_expires_at, deactivated_at, created_at, updated_at`

func scanAccount(row *sql.Row) (Account, error) {
	var account Account
	err := row.Scan(
		&account.ID, &account.DisplayName, &account.Email, &account.PasswordHash,
		&account.IsEmailVerified, &account.VerificationToken,
		&account.VerificationExpiresAt, &account.DeactivatedAt,
		&account.CreatedAt, &account.UpdatedAt,
	)
	return account, err
}

func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, display_name, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, LOWER($3), $4, $5, $6)
	`, account.ID, account.DisplayName, account.Email, account.PasswordHash,
		account.IsEmailVerified, account.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = LOWER($1) AND deactivated_at IS NULL`, email)
	return scanAccount(row)
}

func (s *PostgresStore) GetAccountByID(ctx context.Context, id string) (Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 AND deactivated_at IS NULL`, id)
	return scanAccount(row)
}

func (s *PostgresStore) UpdateAccountVerificationToken(ctx context.Context, accountID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, accountID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("set verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyAccountEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateAccountPassword(ctx context.Context, accountID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash=$2, updated_at=NOW() WHERE id=$1`, accountID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, accountID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, account_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, accountID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var accountID string
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&accountID)
	if err != nil {
		return "", err
	}
	return accountID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- access tokens ----

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- profiles ----

func (s *PostgresStore) CreateProfile(ctx context.Context, profile Profile) error {
	settings, err := json.Marshal(content.Sanitize(profile.AccessSettings))
	if err != nil {
		return fmt.Errorf("marshal access settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, kind, name, owner_id, updates, prayer_requests, funding_needs, profile_posts, access_settings)
		VALUES ($1, $2, $3, $4, '[]', '[]', '[]', '[]', $5)
	`, profile.ID, profile.Kind, profile.Name, profile.OwnerID, settings)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, profileID string) (Profile, error) {
	var profile Profile
	var updates, prayers, funding, posts, settings []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, owner_id, updates, prayer_requests, funding_needs, profile_posts, access_settings, created_at, updated_at
		FROM profiles
		WHERE id=$1
	`, profileID).Scan(
		&profile.ID, &profile.Kind, &profile.Name, &profile.OwnerID,
		&updates, &prayers, &funding, &posts, &settings,
		&profile.CreatedAt, &profile.UpdatedAt,
	)
	if err != nil {
		return Profile{}, err
	}
	if err := decodeItems(updates, &profile.Updates); err != nil {
		return Profile{}, fmt.Errorf("decode updates: %w", err)
	}
	if err := decodeItems(prayers, &profile.PrayerRequests); err != nil {
		return Profile{}, fmt.Errorf("decode prayer requests: %w", err)
	}
	if err := decodeItems(funding, &profile.FundingNeeds); err != nil {
		return Profile{}, fmt.Errorf("decode funding needs: %w", err)
	}
	if err := decodeItems(posts, &profile.ProfilePosts); err != nil {
		return Profile{}, fmt.Errorf("decode profile posts: %w", err)
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &profile.AccessSettings); err != nil {
			return Profile{}, fmt.Errorf("decode access settings: %w", err)
		}
	}
	return profile, nil
}

func decodeItems(raw []byte, into *[]content.Item) error {
	*into = []content.Item{}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, into)
}

func (s *PostgresStore) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, name, owner_id, created_at, updated_at
		FROM profiles
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	items := make([]Profile, 0)
	for rows.Next() {
		var item Profile
		if err := rows.Scan(&item.ID, &item.Kind, &item.Name, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return items, nil
}

// sectionColumns maps the document field names callers use to the columns
// they live in. Anything outside this table is rejected rather than written.
var sectionColumns = map[string]string{
	"updates":        "updates",
	"prayerRequests": "prayer_requests",
	"fundingNeeds":   "funding_needs",
	"profilePosts":   "profile_posts",
	"accessSettings": "access_settings",
}

// SaveProfileSections writes the named document sections in one statement.
// Values marshal through content.Item / Sanitize, so absent-valued fields are
// stripped before they reach the database.
func (s *PostgresStore) SaveProfileSections(ctx context.Context, profileID string, sections map[string]any) error {
	if len(sections) == 0 {
		return nil
	}
	query := `UPDATE profiles SET updated_at=NOW()`
	args := []any{profileID}
	for field, value := range sections {
		column, ok := sectionColumns[field]
		if !ok {
			return fmt.Errorf("unknown profile section %q", field)
		}
		encoded, err := json.Marshal(content.Sanitize(normalizeSectionValue(value)))
		if err != nil {
			return fmt.Errorf("marshal section %s: %w", field, err)
		}
		args = append(args, encoded)
		query += fmt.Sprintf(", %s=$%d", column, len(args))
	}
	query += ` WHERE id=$1`

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("save profile sections: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save profile sections rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// normalizeSectionValue routes item slices through their sanitizing
// marshaler and leaves plain documents (access settings) alone.
func normalizeSectionValue(value any) any {
	if items, ok := value.([]content.Item); ok {
		// Marshal/unmarshal round trip applies Item.MarshalJSON sanitizing.
		encoded, err := json.Marshal(items)
		if err != nil {
			return items
		}
		var doc []any
		if err := json.Unmarshal(encoded, &doc); err != nil {
			return items
		}
		return doc
	}
	return value
}

// ---- memberships ----

// ProfileRole resolves an account's role on one profile: owner when it owns
// the profile row, else the membership role, else public.
func (s *PostgresStore) ProfileRole(ctx context.Context, profileID, accountID string) (string, error) {
	if accountID == "" {
		return "public", nil
	}
	var ownerID string
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM profiles WHERE id=$1`, profileID).Scan(&ownerID)
	if err != nil {
		return "", err
	}
	if ownerID == accountID {
		return "owner", nil
	}
	var role string
	err = s.db.QueryRowContext(ctx,
		`SELECT role FROM profile_members WHERE profile_id=$1 AND account_id=$2`, profileID, accountID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "public", nil
	}
	if err != nil {
		return "", fmt.Errorf("read membership: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) UpsertMember(ctx context.Context, member Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile_members (profile_id, account_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (profile_id, account_id) DO UPDATE SET role=EXCLUDED.role
	`, member.ProfileID, member.AccountID, member.Role)
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveMember(ctx context.Context, profileID, accountID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM profile_members WHERE profile_id=$1 AND account_id=$2`, profileID, accountID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

// ---- reactions ----

// ToggleReaction flips one account's reaction on one item inside a
// transaction holding a row lock, so two concurrent toggles cannot lose each
// other the way a whole-document rewrite would. The feed is remerged from the
// updated collections before the lock is released.
func (s *PostgresStore) ToggleReaction(ctx context.Context, profileID string, itemType content.ItemType, itemID, kind, accountID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin reaction tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var updates, prayers, funding, posts []byte
	err = tx.QueryRowContext(ctx, `
		SELECT updates, prayer_requests, funding_needs, profile_posts
		FROM profiles
		WHERE id=$1
		FOR UPDATE
	`, profileID).Scan(&updates, &prayers, &funding, &posts)
	if err != nil {
		return false, err
	}

	var profile Profile
	if err := decodeItems(updates, &profile.Updates); err != nil {
		return false, fmt.Errorf("decode updates: %w", err)
	}
	if err := decodeItems(prayers, &profile.PrayerRequests); err != nil {
		return false, fmt.Errorf("decode prayer requests: %w", err)
	}
	if err := decodeItems(funding, &profile.FundingNeeds); err != nil {
		return false, fmt.Errorf("decode funding needs: %w", err)
	}
	if err := decodeItems(posts, &profile.ProfilePosts); err != nil {
		return false, fmt.Errorf("decode profile posts: %w", err)
	}

	collection, field := profile.collectionFor(itemType)
	if collection == nil {
		return false, fmt.Errorf("unknown item type %q", itemType)
	}
	item := findItem(*collection, itemID)
	if item == nil {
		return false, sql.ErrNoRows
	}
	added := toggleReaction(item, kind, accountID)

	merged := mergeProfilePosts(profile)
	sections := map[string]any{
		field:          *collection,
		"profilePosts": merged,
	}

	query := `UPDATE profiles SET updated_at=NOW()`
	args := []any{profileID}
	for name, value := range sections {
		encoded, err := json.Marshal(content.Sanitize(normalizeSectionValue(value)))
		if err != nil {
			return false, fmt.Errorf("marshal section %s: %w", name, err)
		}
		args = append(args, encoded)
		query += fmt.Sprintf(", %s=$%d", sectionColumns[name], len(args))
	}
	query += ` WHERE id=$1`
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("write reaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit reaction tx: %w", err)
	}
	return added, nil
}

func (p *Profile) collectionFor(itemType content.ItemType) (*[]content.Item, string) {
	switch itemType {
	case content.TypeUpdate:
		return &p.Updates, "updates"
	case content.TypePrayer:
		return &p.PrayerRequests, "prayerRequests"
	case content.TypeFunding:
		return &p.FundingNeeds, "fundingNeeds"
	default:
		return nil, ""
	}
}

func findItem(items []content.Item, itemID string) *content.Item {
	for i := range items {
		if items[i].ID == itemID {
			return &items[i]
		}
	}
	return nil
}

func toggleReaction(item *content.Item, kind, accountID string) bool {
	if item.Reactions == nil {
		item.Reactions = map[string][]string{}
	}
	users := item.Reactions[kind]
	for i, user := range users {
		if user == accountID {
			item.Reactions[kind] = append(users[:i], users[i+1:]...)
			if len(item.Reactions[kind]) == 0 {
				delete(item.Reactions, kind)
			}
			return false
		}
	}
	item.Reactions[kind] = append(users, accountID)
	return true
}

func mergeProfilePosts(profile Profile) []content.Item {
	return content.MergeFeed(profile.ProfilePosts, profile.Updates, profile.PrayerRequests, profile.FundingNeeds)
}
