package app

import (
	"context"
	"database/sql"
	"log"
	"regexp"
	"strings"
	"time"

	"uplift/api/internal/access"
	"uplift/api/internal/auth"
	"uplift/api/internal/authpw"
	"uplift/api/internal/config"
	"uplift/api/internal/content"
	"uplift/api/internal/export"
	"uplift/api/internal/search"
	"uplift/api/internal/store"
	"uplift/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	AccountID    string
	Name         string
	JTI          string
	ExpiresAt    time.Time
}

// IsSignedIn reports whether the session belongs to a real account; an empty
// session stands for an anonymous public viewer.
func (s Session) IsSignedIn() bool {
	return s.AccountID != ""
}

type UpdateInput struct {
	Title  string   `json:"title"`
	Text   string   `json:"text"`
	Images []string `json:"images"`
	Tags   []string `json:"tags"`
}

type PrayerInput struct {
	Title          string   `json:"title"`
	Text           string   `json:"text"`
	Images         []string `json:"images"`
	Tags           []string `json:"tags"`
	AlsoPostUpdate bool     `json:"alsoPostUpdate"`
}

type FundingInput struct {
	Title        string   `json:"title"`
	Text         string   `json:"text"`
	Images       []string `json:"images"`
	Tags         []string `json:"tags"`
	TargetAmount float64  `json:"targetAmount"`
	Currency     string   `json:"currency"`
}

type CommentInput struct {
	Text string `json:"text"`
}

type ReactionInput struct {
	Kind string `json:"kind"`
}

type dataStore interface {
	GetAccountByID(ctx context.Context, id string) (store.Account, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	CreateProfile(ctx context.Context, profile store.Profile) error
	GetProfile(ctx context.Context, profileID string) (store.Profile, error)
	ListProfiles(ctx context.Context) ([]store.Profile, error)
	SaveProfileSections(ctx context.Context, profileID string, sections map[string]any) error
	ProfileRole(ctx context.Context, profileID, accountID string) (string, error)
	UpsertMember(ctx context.Context, member store.Member) error
	RemoveMember(ctx context.Context, profileID, accountID string) error
	ToggleReaction(ctx context.Context, profileID string, itemType content.ItemType, itemID, kind, accountID string) (bool, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, accountID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.Account, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

type notifier interface {
	IsConfigured() bool
	SendCommentNotification(to, profileName, itemTitle, commenter, excerpt string) error
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	search   *search.Service
	email    notifier
	exporter *export.Service
	authpw   *authpw.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchService *search.Service, email notifier, exporter *export.Service, authService *authpw.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		search:   searchService,
		email:    email,
		exporter: exporter,
		authpw:   authService,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// AuthPasswordService exposes the email/password auth service to transports.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// SMTPConfigured reports whether outbound email is available.
func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SendVerificationEmail delivers the verify-account link, best effort.
func (s *Service) SendVerificationEmail(email, name, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := s.cfg.AppBaseURL + "/verify-email?token=" + token
	if err := s.email.SendVerificationEmail(email, name, url); err != nil {
		log.Printf("verification email to %s failed: %v", email, err)
	}
}

// SendPasswordResetEmail delivers the reset link, best effort.
func (s *Service) SendPasswordResetEmail(email, name, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := s.cfg.AppBaseURL + "/reset-password?token=" + token
	if err := s.email.SendPasswordResetEmail(email, name, url); err != nil {
		log.Printf("password reset email to %s failed: %v", email, err)
	}
}

// CreateSession issues tokens for an already-authenticated account ID.
func (s *Service) CreateSession(ctx context.Context, accountID string) (Session, error) {
	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return Session{}, err
	}
	return s.IssueSession(ctx, account)
}

// ---- sessions ----

func (s *Service) IssueSession(ctx context.Context, account store.Account) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  account.ID,
		Name: account.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), account.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		AccountID:    account.ID,
		Name:         account.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	account, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// Refresh sessions only carry the account ID; reload the full record.
	full, err := s.store.GetAccountByID(ctx, account.ID)
	if err != nil {
		return Session{}, err
	}
	return s.IssueSession(ctx, full)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	account, err := s.store.GetAccountByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		AccountID: account.ID,
		Name:      account.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ---- profiles ----

var allowedProfileKinds = map[string]struct{}{
	"project":    {},
	"individual": {},
}

func (s *Service) CreateProfile(ctx context.Context, session Session, kind, name string) (map[string]any, error) {
	if !session.IsSignedIn() {
		return nil, forbiddenError("sign in to create a profile")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required")
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	if _, ok := allowedProfileKinds[kind]; !ok {
		return nil, validationError("kind must be 'project' or 'individual'")
	}
	profile := store.Profile{
		ID:             util.NewID("prf"),
		Kind:           kind,
		Name:           name,
		OwnerID:        session.AccountID,
		AccessSettings: settingsDoc(access.Defaults()),
	}
	if err := s.store.CreateProfile(ctx, profile); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexProfile(search.ProfileRecord{ID: profile.ID, Kind: profile.Kind, Name: profile.Name})
	}
	return s.ProfileView(ctx, profile.ID, session)
}

func (s *Service) ListProfiles(ctx context.Context) ([]map[string]any, error) {
	profiles, err := s.store.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(profiles))
	for _, profile := range profiles {
		items = append(items, map[string]any{
			"id":   profile.ID,
			"kind": profile.Kind,
			"name": profile.Name,
		})
	}
	return items, nil
}

// viewerRole resolves the session's role on one profile from the membership
// rows. Role resolution is the only place auth state touches the access
// policy; everything downstream takes the resolved role.
func (s *Service) viewerRole(ctx context.Context, profileID string, session Session) (access.Role, error) {
	raw, err := s.store.ProfileRole(ctx, profileID, session.AccountID)
	if err != nil {
		return access.RolePublic, err
	}
	return access.NormalizeRole(raw), nil
}

// ProfileView returns the profile document filtered down to the sections the
// viewer may see.
func (s *Service) ProfileView(ctx context.Context, profileID string, session Session) (map[string]any, error) {
	profile, err := s.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	role, err := s.viewerRole(ctx, profileID, session)
	if err != nil {
		return nil, err
	}
	settings := access.Normalize(profile.AccessSettings)

	view := map[string]any{
		"id":         profile.ID,
		"kind":       profile.Kind,
		"name":       profile.Name,
		"viewerRole": string(role),
	}
	if settings.CanView("updates", role) {
		view["feed"] = content.VisibleFeed(profile.ProfilePosts, "")
		view["updates"] = profile.Updates
	}
	if settings.CanView("prayer", role) {
		view["prayerRequests"] = profile.PrayerRequests
	}
	if settings.CanView("finance", role) {
		view["fundingNeeds"] = profile.FundingNeeds
	}
	if role == access.RoleOwner {
		view["accessSettings"] = settings
	}
	sections := map[string]any{}
	for _, name := range []string{"overview", "about", "updates", "prayer", "finance"} {
		sections[name] = map[string]any{
			"canView": settings.CanView(name, role),
			"canEdit": settings.CanEdit(name, role),
		}
	}
	view["sections"] = sections
	return view, nil
}

// Feed returns the unified feed for general display, optionally filtered to
// one tag.
func (s *Service) Feed(ctx context.Context, profileID string, session Session, tag string) (map[string]any, error) {
	profile, err := s.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	role, err := s.viewerRole(ctx, profileID, session)
	if err != nil {
		return nil, err
	}
	settings := access.Normalize(profile.AccessSettings)
	if !settings.CanView("updates", role) {
		return nil, forbiddenError("updates are not visible to this viewer")
	}
	tag = strings.ToLower(strings.TrimSpace(tag))
	return map[string]any{
		"profileId": profile.ID,
		"items":     content.VisibleFeed(profile.ProfilePosts, tag),
	}, nil
}

// loadForEdit fetches the profile and checks the viewer can edit the section.
func (s *Service) loadForEdit(ctx context.Context, profileID string, session Session, section string) (store.Profile, access.Role, error) {
	profile, err := s.store.GetProfile(ctx, profileID)
	if err != nil {
		return store.Profile{}, access.RolePublic, err
	}
	role, err := s.viewerRole(ctx, profileID, session)
	if err != nil {
		return store.Profile{}, access.RolePublic, err
	}
	settings := access.Normalize(profile.AccessSettings)
	if !settings.CanEdit(section, role) {
		return store.Profile{}, role, forbiddenError("not allowed to edit " + section)
	}
	return profile, role, nil
}

// ---- content items ----

func (s *Service) newItem(raw map[string]any, typ content.ItemType, session Session) content.Item {
	item := content.Normalize(raw, typ)
	item.ID = util.NewID("itm")
	item.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	item.Author = session.Name
	return item
}

func (s *Service) CreateUpdate(ctx context.Context, profileID string, session Session, input UpdateInput) (map[string]any, error) {
	if strings.TrimSpace(input.Text) == "" {
		return nil, validationError("text is required")
	}
	profile, _, err := s.loadForEdit(ctx, profileID, session, "updates")
	if err != nil {
		return nil, err
	}

	item := s.newItem(map[string]any{
		"title":  input.Title,
		"text":   input.Text,
		"images": input.Images,
		"tags":   input.Tags,
	}, content.TypeUpdate, session)

	updates := append(profile.Updates, item)
	posts := content.MergeFeed(profile.ProfilePosts, updates, profile.PrayerRequests, profile.FundingNeeds)
	if err := s.store.SaveProfileSections(ctx, profileID, map[string]any{
		"updates":      updates,
		"profilePosts": posts,
	}); err != nil {
		return nil, persistenceError(err)
	}
	s.indexItem(profile, item)
	return map[string]any{"item": item, "feed": content.VisibleFeed(posts, "")}, nil
}

// CreatePrayerRequest appends a prayer request and, when alsoPostUpdate is
// set, mirrors it into the updates collection under the same ID. The mirror
// carries only the first image and the automatic "prayer" tag.
//
// Persistence degrades in two phases when the combined write fails: the
// prayer-only write must succeed or the whole action fails; the follow-up
// updates write is best effort and a failure there is logged, accepting a
// transient gap between "prayer recorded" and "cross-post visible" over
// losing the primary action.
func (s *Service) CreatePrayerRequest(ctx context.Context, profileID string, session Session, input PrayerInput) (map[string]any, error) {
	if strings.TrimSpace(input.Text) == "" {
		return nil, validationError("text is required")
	}
	profile, _, err := s.loadForEdit(ctx, profileID, session, "prayer")
	if err != nil {
		return nil, err
	}

	prayer := s.newItem(map[string]any{
		"title":  input.Title,
		"text":   input.Text,
		"images": input.Images,
		"tags":   input.Tags,
	}, content.TypePrayer, session)

	if !input.AlsoPostUpdate {
		prayers := append(profile.PrayerRequests, prayer)
		posts := content.MergeFeed(profile.ProfilePosts, profile.Updates, prayers, profile.FundingNeeds)
		if err := s.store.SaveProfileSections(ctx, profileID, map[string]any{
			"prayerRequests": prayers,
			"profilePosts":   posts,
		}); err != nil {
			return nil, persistenceError(err)
		}
		s.indexItem(profile, prayer)
		return map[string]any{"prayer": prayer, "feed": content.VisibleFeed(posts, "")}, nil
	}

	prayer.ShowInUpdatesFeed = true
	mirror := prayer
	mirror.Type = content.TypeUpdate
	mirror.CommentStatus = ""
	mirror.Tags = []string{"prayer"}
	if len(prayer.Images) > 0 {
		// Fresh slice: a subslice would share the prayer's backing array.
		mirror.Images = []string{prayer.Images[0]}
	}

	prayers := append(profile.PrayerRequests, prayer)
	updates := append(profile.Updates, mirror)
	fullPosts := content.MergeFeed(profile.ProfilePosts, updates, prayers, profile.FundingNeeds)

	combinedErr := s.store.SaveProfileSections(ctx, profileID, map[string]any{
		"prayerRequests": prayers,
		"updates":        updates,
		"profilePosts":   fullPosts,
	})
	if combinedErr != nil {
		log.Printf("prayer cross-post: combined write failed, degrading: %v", combinedErr)
		primaryPosts := content.MergeFeed(profile.ProfilePosts, profile.Updates, prayers, profile.FundingNeeds)
		if err := s.store.SaveProfileSections(ctx, profileID, map[string]any{
			"prayerRequests": prayers,
			"profilePosts":   primaryPosts,
		}); err != nil {
			return nil, persistenceError(err)
		}
		if err := s.store.SaveProfileSections(ctx, profileID, map[string]any{
			"updates":      updates,
			"profilePosts": fullPosts,
		}); err != nil {
			// Prayer is recorded; the cross-post will be missing until the
			// next successful merge.
			log.Printf("prayer cross-post: secondary updates write failed: %v", err)
		}
	}
	s.indexItem(profile, prayer)
	s.indexItem(profile, mirror)
	return map[string]any{
		"prayer": prayer,
		"update": mirror,
		"feed":   content.VisibleFeed(fullPosts, ""),
	}, nil
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

func (s *Service) CreateFundingNeed(ctx context.Context, profileID string, session Session, input FundingInput) (map[string]any, error) {
	if strings.TrimSpace(input.Title) == "" && strings.TrimSpace(input.Text) == "" {
		return nil, validationError("a title or narrative is required")
	}
	if input.TargetAmount < 0 {
		return nil, validationError("targetAmount must be a positive number")
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if input.TargetAmount > 0 && !currencyPattern.MatchString(currency) {
		return nil, validationError("currency must be an ISO 4217 code when targetAmount is set")
	}
	profile, _, err := s.loadForEdit(ctx, profileID, session, "finance")
	if err != nil {
		return nil, err
	}

	item := s.newItem(map[string]any{
		"title":        input.Title,
		"text":         input.Text,
		"images":       input.Images,
		"tags":         input.Tags,
		"targetAmount": input.TargetAmount,
		"currency":     currency,
	}, content.TypeFunding, session)

	funding := append(profile.FundingNeeds, item)
	posts := content.MergeFeed(profile.ProfilePosts, profile.Updates, profile.PrayerRequests, funding)
	if err := s.store.SaveProfileSections(ctx, profileID, map[string]any{
		"fundingNeeds": funding,
		"profilePosts": posts,
	}); err != nil {
		return nil, persistenceError(err)
	}
	return map[string]any{"item": item}, nil
}

func sectionForType(typ content.ItemType) string {
	switch typ {
	case content.TypePrayer:
		return "prayer"
	case content.TypeFunding:
		return "finance"
	default:
		return "updates"
	}
}

func parseItemType(raw string) (content.ItemType, error) {
	switch content.ItemType(strings.ToLower(strings.TrimSpace(raw))) {
	case content.TypeUpdate:
		return content.TypeUpdate, nil
	case content.TypePrayer:
		return content.TypePrayer, nil
	case content.TypeFunding:
		return content.TypeFunding, nil
	default:
		return "", validationError("item type must be update, prayer, or funding")
	}
}

// DeleteItem removes an item from its source collection and rebuilds the
// feed. Deletion is final: there is no tombstone.
func (s *Service) DeleteItem(ctx context.Context, profileID string, session Session, rawType, itemID string) (map[string]any, error) {
	typ, err := parseItemType(rawType)
	if err != nil {
		return nil, err
	}
	profile, _, err := s.loadForEdit(ctx, profileID, session, sectionForType(typ))
	if err != nil {
		return nil, err
	}

	collection, field := collectionForType(&profile, typ)
	filtered := make([]content.Item, 0, len(*collection))
	removed := false
	for _, item := range *collection {
		if item.ID == itemID {
			removed = true
			continue
		}
		filtered = append(filtered, item)
	}
	if !removed {
		return nil, sql.ErrNoRows
	}
	*collection = filtered

	posts := content.MergeFeed(profile.ProfilePosts, profile.Updates, profile.PrayerRequests, profile.FundingNeeds)
	if err := s.store.SaveProfileSections(ctx, profileID, map[string]any{
		field:          filtered,
		"profilePosts": posts,
	}); err != nil {
		return nil, persistenceError(err)
	}
	if s.search != nil {
		s.search.DeletePost(itemID)
	}
	return map[string]any{"deleted": itemID, "feed": content.VisibleFeed(posts, "")}, nil
}

func collectionForType(profile *store.Profile, typ content.ItemType) (*[]content.Item, string) {
	switch typ {
	case content.TypePrayer:
		return &profile.PrayerRequests, "prayerRequests"
	case content.TypeFunding:
		return &profile.FundingNeeds, "fundingNeeds"
	default:
		return &profile.Updates, "updates"
	}
}

// ---- comments & reactions ----

func (s *Service) AddComment(ctx context.Context, profileID string, session Session, rawType, itemID string, input CommentInput) (map[string]any, error) {
	typ, err := parseItemType(rawType)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, validationError("text is required")
	}
	profile, err2 := s.store.GetProfile(ctx, profileID)
	if err2 != nil {
		return nil, err2
	}
	role, err2 := s.viewerRole(ctx, profileID, session)
	if err2 != nil {
		return nil, err2
	}
	settings := access.Normalize(profile.AccessSettings)
	if !settings.CanView(sectionForType(typ), role) {
		return nil, forbiddenError("section is not visible to this viewer")
	}
	if !role.AtLeast(access.RoleSupporter) {
		return nil, forbiddenError("sign in as a supporter to comment")
	}

	collection, field := collectionForType(&profile, typ)
	item := findItem(*collection, itemID)
	if item == nil {
		return nil, sql.ErrNoRows
	}
	if typ == content.TypePrayer && item.CommentStatus != content.CommentsOn {
		return nil, forbiddenError("comments are closed on this prayer request")
	}

	comment := content.Comment{
		ID:        util.NewID("cmt"),
		Text:      text,
		Author:    session.Name,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	item.Comments = append(item.Comments, comment)

	posts := content.MergeFeed(profile.ProfilePosts, profile.Updates, profile.PrayerRequests, profile.FundingNeeds)
	if err := s.store.SaveProfileSections(ctx, profileID, map[string]any{
		field:          *collection,
		"profilePosts": posts,
	}); err != nil {
		return nil, persistenceError(err)
	}
	s.notifyOwner(ctx, profile, *item, session.Name, text)
	return map[string]any{"comment": comment, "item": *item}, nil
}

// SetCommentStatus changes commenting on a prayer request. Transitioning to
// "off" clears existing comments; "freeze" keeps them but blocks changes.
func (s *Service) SetCommentStatus(ctx context.Context, profileID string, session Session, itemID, status string) (map[string]any, error) {
	if !content.ValidCommentStatus(status) {
		return nil, validationError("status must be on, freeze, or off")
	}
	profile, _, err := s.loadForEdit(ctx, profileID, session, "prayer")
	if err != nil {
		return nil, err
	}
	item := findItem(profile.PrayerRequests, itemID)
	if item == nil {
		return nil, sql.ErrNoRows
	}
	next := content.CommentStatus(strings.ToLower(strings.TrimSpace(status)))
	item.CommentStatus = next
	if next == content.CommentsOff {
		item.Comments = []content.Comment{}
	}

	posts := content.MergeFeed(profile.ProfilePosts, profile.Updates, profile.PrayerRequests, profile.FundingNeeds)
	if err := s.store.SaveProfileSections(ctx, profileID, map[string]any{
		"prayerRequests": profile.PrayerRequests,
		"profilePosts":   posts,
	}); err != nil {
		return nil, persistenceError(err)
	}
	return map[string]any{"item": *item}, nil
}

// ToggleReaction is delegated to the store's transactional read-modify-write
// so concurrent toggles on the same item cannot lose each other.
func (s *Service) ToggleReaction(ctx context.Context, profileID string, session Session, rawType, itemID string, input ReactionInput) (map[string]any, error) {
	typ, err := parseItemType(rawType)
	if err != nil {
		return nil, err
	}
	kind := strings.TrimSpace(input.Kind)
	if kind == "" {
		return nil, validationError("kind is required")
	}
	if len([]rune(kind)) > 16 {
		return nil, validationError("kind is too long")
	}
	profile, err2 := s.store.GetProfile(ctx, profileID)
	if err2 != nil {
		return nil, err2
	}
	role, err2 := s.viewerRole(ctx, profileID, session)
	if err2 != nil {
		return nil, err2
	}
	settings := access.Normalize(profile.AccessSettings)
	if !settings.CanView(sectionForType(typ), role) {
		return nil, forbiddenError("section is not visible to this viewer")
	}
	if !role.AtLeast(access.RoleSupporter) {
		return nil, forbiddenError("sign in as a supporter to react")
	}

	added, err2 := s.store.ToggleReaction(ctx, profileID, typ, itemID, kind, session.AccountID)
	if err2 != nil {
		return nil, err2
	}
	return map[string]any{"itemId": itemID, "kind": kind, "reacted": added}, nil
}

func findItem(items []content.Item, itemID string) *content.Item {
	for i := range items {
		if items[i].ID == itemID {
			return &items[i]
		}
	}
	return nil
}

// ---- access settings ----

func (s *Service) AccessSettings(ctx context.Context, profileID string, session Session) (map[string]any, error) {
	profile, err := s.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	role, err := s.viewerRole(ctx, profileID, session)
	if err != nil {
		return nil, err
	}
	if role != access.RoleOwner {
		return nil, forbiddenError("only the owner can read access settings")
	}
	return map[string]any{
		"profileId": profile.ID,
		"settings":  access.Normalize(profile.AccessSettings),
	}, nil
}

// UpdateAccessSettings replaces the permission table. Owner only. The stored
// value passes through legacy normalization and the edit ⊆ view sanitizer, so
// a malformed table can never widen access.
func (s *Service) UpdateAccessSettings(ctx context.Context, profileID string, session Session, raw map[string]any) (map[string]any, error) {
	role, err := s.viewerRole(ctx, profileID, session)
	if err != nil {
		return nil, err
	}
	if role != access.RoleOwner {
		return nil, forbiddenError("only the owner can change access settings")
	}
	settings := access.Normalize(raw)
	if err := s.store.SaveProfileSections(ctx, profileID, map[string]any{
		"accessSettings": settingsDoc(settings),
	}); err != nil {
		return nil, persistenceError(err)
	}
	return map[string]any{"profileId": profileID, "settings": settings}, nil
}

func settingsDoc(settings access.Settings) map[string]any {
	doc := make(map[string]any, len(settings))
	for section, rule := range settings {
		view := make([]any, 0, len(rule.View))
		for _, role := range rule.View {
			view = append(view, string(role))
		}
		edit := make([]any, 0, len(rule.Edit))
		for _, role := range rule.Edit {
			edit = append(edit, string(role))
		}
		doc[section] = map[string]any{"view": view, "edit": edit}
	}
	return doc
}

// ---- members ----

func (s *Service) SetMember(ctx context.Context, profileID string, session Session, accountID, role string) error {
	viewer, err := s.viewerRole(ctx, profileID, session)
	if err != nil {
		return err
	}
	if viewer != access.RoleOwner {
		return forbiddenError("only the owner can manage members")
	}
	normalized := access.NormalizeRole(role)
	if normalized != access.RoleSupporter && normalized != access.RoleRepresentative {
		return validationError("role must be supporter or representative")
	}
	return s.store.UpsertMember(ctx, store.Member{
		ProfileID: profileID,
		AccountID: accountID,
		Role:      string(normalized),
	})
}

func (s *Service) RemoveMember(ctx context.Context, profileID string, session Session, accountID string) error {
	viewer, err := s.viewerRole(ctx, profileID, session)
	if err != nil {
		return err
	}
	if viewer != access.RoleOwner {
		return forbiddenError("only the owner can manage members")
	}
	return s.store.RemoveMember(ctx, profileID, accountID)
}

// ---- export ----

// ExportDigest renders the sections the viewer can see as a PDF.
func (s *Service) ExportDigest(ctx context.Context, profileID string, session Session) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(503, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	profile, err := s.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	role, err := s.viewerRole(ctx, profileID, session)
	if err != nil {
		return nil, err
	}
	settings := access.Normalize(profile.AccessSettings)

	digest := export.Digest{
		ProfileName: profile.Name,
		Kind:        profile.Kind,
		GeneratedAt: time.Now(),
	}
	sections := []struct {
		name    string
		heading string
		items   []content.Item
	}{
		{"updates", "Updates", profile.Updates},
		{"prayer", "Prayer Requests", profile.PrayerRequests},
		{"finance", "Funding Needs", profile.FundingNeeds},
	}
	for _, section := range sections {
		if !settings.CanView(section.name, role) {
			continue
		}
		digest.Sections = append(digest.Sections, export.DigestSection{
			Heading: section.heading,
			Items:   digestItems(section.items),
		})
	}
	if len(digest.Sections) == 0 {
		return nil, forbiddenError("nothing on this profile is visible to this viewer")
	}
	return s.exporter.Export(ctx, digest)
}

func digestItems(items []content.Item) []export.DigestItem {
	out := make([]export.DigestItem, 0, len(items))
	for _, item := range items {
		entry := export.DigestItem{
			Title:        item.Title,
			Text:         item.Text,
			Author:       item.Author,
			CreatedAt:    item.CreatedAt,
			Tags:         item.Tags,
			TargetAmount: item.TargetAmount,
			Currency:     item.Currency,
		}
		for _, comment := range item.Comments {
			entry.Comments = append(entry.Comments, export.DigestComment{
				Author: comment.Author,
				Text:   comment.Text,
			})
		}
		out = append(out, entry)
	}
	return out
}

// ---- search & notifications ----

func (s *Service) indexItem(profile store.Profile, item content.Item) {
	if s.search == nil || !item.ShowInUpdatesFeed {
		return
	}
	s.search.IndexPost(search.PostRecord{
		ID:        item.ID,
		ProfileID: profile.ID,
		Type:      string(item.Type),
		Title:     item.Title,
		Text:      item.Text,
		Tags:      item.Tags,
	})
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) notifyOwner(ctx context.Context, profile store.Profile, item content.Item, commenter, text string) {
	if s.email == nil || !s.email.IsConfigured() {
		return
	}
	owner, err := s.store.GetAccountByID(ctx, profile.OwnerID)
	if err != nil {
		log.Printf("comment notification: owner lookup failed: %v", err)
		return
	}
	excerpt := text
	if runes := []rune(excerpt); len(runes) > 140 {
		excerpt = string(runes[:140]) + "…"
	}
	if err := s.email.SendCommentNotification(owner.Email, profile.Name, item.Title, commenter, excerpt); err != nil {
		log.Printf("comment notification: send failed: %v", err)
	}
}

func persistenceError(err error) *DomainError {
	return domainError(500, "PERSISTENCE_ERROR", "Could not save changes", map[string]any{"cause": err.Error()})
}
