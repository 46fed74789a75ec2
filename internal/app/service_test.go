package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"uplift/api/internal/config"
	"uplift/api/internal/content"
	"uplift/api/internal/store"
)

type fakeStore struct {
	getAccountByIDFn      func(context.Context, string) (store.Account, error)
	getProfileFn          func(context.Context, string) (store.Profile, error)
	profileRoleFn         func(context.Context, string, string) (string, error)
	saveProfileSectionsFn func(context.Context, string, map[string]any) error
	toggleReactionFn      func(context.Context, string, content.ItemType, string, string, string) (bool, error)

	saved []map[string]any
}

func (f *fakeStore) GetAccountByID(ctx context.Context, id string) (store.Account, error) {
	if f.getAccountByIDFn != nil {
		return f.getAccountByIDFn(ctx, id)
	}
	return store.Account{ID: id, DisplayName: "Pat", Email: "pat@example.org"}, nil
}
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error) { return false, nil }
func (f *fakeStore) CreateProfile(context.Context, store.Profile) error { return nil }
func (f *fakeStore) GetProfile(ctx context.Context, profileID string) (store.Profile, error) {
	if f.getProfileFn != nil {
		return f.getProfileFn(ctx, profileID)
	}
	return store.Profile{}, sql.ErrNoRows
}
func (f *fakeStore) ListProfiles(context.Context) ([]store.Profile, error) { return nil, nil }
func (f *fakeStore) SaveProfileSections(ctx context.Context, profileID string, sections map[string]any) error {
	if f.saveProfileSectionsFn != nil {
		if err := f.saveProfileSectionsFn(ctx, profileID, sections); err != nil {
			return err
		}
	}
	f.saved = append(f.saved, sections)
	return nil
}
func (f *fakeStore) ProfileRole(ctx context.Context, profileID, accountID string) (string, error) {
	if f.profileRoleFn != nil {
		return f.profileRoleFn(ctx, profileID, accountID)
	}
	return "", nil
}
func (f *fakeStore) UpsertMember(context.Context, store.Member) error { return nil }
func (f *fakeStore) RemoveMember(context.Context, string, string) error { return nil }
func (f *fakeStore) Ping(context.Context) error { return nil }
func (f *fakeStore) ToggleReaction(ctx context.Context, profileID string, itemType content.ItemType, itemID, kind, accountID string) (bool, error) {
	if f.toggleReactionFn != nil {
		return f.toggleReactionFn(ctx, profileID, itemType, itemID, kind, accountID)
	}
	return false, sql.ErrNoRows
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg:   config.Config{JWTSecret: "test-secret", AccessTTL: time.Minute, RefreshTTL: time.Hour},
		store: fs,
	}
}

func fixedRole(role string) func(context.Context, string, string) (string, error) {
	return func(context.Context, string, string) (string, error) {
		return role, nil
	}
}

func profileFixture(profile store.Profile) func(context.Context, string) (store.Profile, error) {
	return func(context.Context, string) (store.Profile, error) {
		return profile, nil
	}
}

func itemsFrom(sections map[string]any, key string) []content.Item {
	items, _ := sections[key].([]content.Item)
	return items
}

func assertDomainCode(t *testing.T, err error, code string) {
	t.Helper()
	var domain *DomainError
	if !errors.As(err, &domain) {
		t.Fatalf("expected DomainError %s, got %v", code, err)
	}
	if domain.Code != code {
		t.Fatalf("code = %s, want %s", domain.Code, code)
	}
}

var testSession = Session{AccountID: "acc1", Name: "Pat"}

func TestCreateUpdateMergesFeed(t *testing.T) {
	fs := &fakeStore{
		getProfileFn:  profileFixture(store.Profile{ID: "prf1", Name: "Hope Farm"}),
		profileRoleFn: fixedRole("owner"),
	}
	svc := newTestService(fs)

	result, err := svc.CreateUpdate(context.Background(), "prf1", testSession, UpdateInput{
		Text:   "Planted the first field",
		Images: []string{"a.jpg"},
		Tags:   []string{"Harvest"},
	})
	if err != nil {
		t.Fatalf("CreateUpdate: %v", err)
	}

	if len(fs.saved) != 1 {
		t.Fatalf("expected one save, got %d", len(fs.saved))
	}
	updates := itemsFrom(fs.saved[0], "updates")
	if len(updates) != 1 {
		t.Fatalf("updates = %v", updates)
	}
	item := updates[0]
	if item.ID == "" || item.CreatedAt == "" || item.Author != "Pat" {
		t.Errorf("item metadata not stamped: %+v", item)
	}
	if !item.ShowInUpdatesFeed {
		t.Errorf("update must surface in the feed")
	}
	if item.Tags[0] != "harvest" {
		t.Errorf("tags not normalized: %v", item.Tags)
	}

	posts := itemsFrom(fs.saved[0], "profilePosts")
	if len(posts) != 1 || posts[0].ID != item.ID {
		t.Errorf("feed not rebuilt: %v", posts)
	}
	if result["item"] == nil {
		t.Errorf("result missing item: %v", result)
	}
}

func TestCreateUpdateRequiresText(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.CreateUpdate(context.Background(), "prf1", testSession, UpdateInput{})
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestCreateUpdateForbiddenForSupporters(t *testing.T) {
	fs := &fakeStore{
		getProfileFn:  profileFixture(store.Profile{ID: "prf1"}),
		profileRoleFn: fixedRole("supporter"),
	}
	svc := newTestService(fs)

	_, err := svc.CreateUpdate(context.Background(), "prf1", testSession, UpdateInput{Text: "hi"})
	assertDomainCode(t, err, "FORBIDDEN")
	if len(fs.saved) != 0 {
		t.Fatalf("nothing may be saved on a denied edit")
	}
}

func TestCreatePrayerCrossPost(t *testing.T) {
	fs := &fakeStore{
		getProfileFn:  profileFixture(store.Profile{ID: "prf1"}),
		profileRoleFn: fixedRole("representative"),
	}
	svc := newTestService(fs)

	result, err := svc.CreatePrayerRequest(context.Background(), "prf1", testSession, PrayerInput{
		Text:           "Pray for rain",
		Images:         []string{"one.jpg", "two.jpg"},
		AlsoPostUpdate: true,
	})
	if err != nil {
		t.Fatalf("CreatePrayerRequest: %v", err)
	}

	if len(fs.saved) != 1 {
		t.Fatalf("combined write should be a single save, got %d", len(fs.saved))
	}
	sections := fs.saved[0]

	prayers := itemsFrom(sections, "prayerRequests")
	updates := itemsFrom(sections, "updates")
	if len(prayers) != 1 || len(updates) != 1 {
		t.Fatalf("prayers = %v, updates = %v", prayers, updates)
	}

	prayer, mirror := prayers[0], updates[0]
	if prayer.ID != mirror.ID {
		t.Errorf("cross-post must share the prayer's ID: %s vs %s", prayer.ID, mirror.ID)
	}
	if mirror.Type != content.TypeUpdate {
		t.Errorf("mirror type = %s", mirror.Type)
	}
	if len(mirror.Images) != 1 || mirror.Images[0] != "one.jpg" {
		t.Errorf("mirror must carry only the first image: %v", mirror.Images)
	}
	if len(mirror.Tags) != 1 || mirror.Tags[0] != "prayer" {
		t.Errorf("mirror tags = %v", mirror.Tags)
	}
	if mirror.CommentStatus != "" {
		t.Errorf("comment status is a prayer concern, mirror has %q", mirror.CommentStatus)
	}
	if !prayer.ShowInUpdatesFeed {
		t.Errorf("cross-posted prayer must be feed-visible")
	}
	if prayer.CommentStatus != content.CommentsOn {
		t.Errorf("prayer comment status = %q", prayer.CommentStatus)
	}

	posts := itemsFrom(sections, "profilePosts")
	if len(posts) != 2 {
		t.Errorf("feed should carry prayer and mirror: %v", posts)
	}
	if result["update"] == nil || result["prayer"] == nil {
		t.Errorf("result = %v", result)
	}
}

func TestCreatePrayerCrossPostMirrorImagesDetached(t *testing.T) {
	fs := &fakeStore{
		getProfileFn:  profileFixture(store.Profile{ID: "prf1"}),
		profileRoleFn: fixedRole("owner"),
	}
	svc := newTestService(fs)

	result, err := svc.CreatePrayerRequest(context.Background(), "prf1", testSession, PrayerInput{
		Text:           "Pray for rain",
		Images:         []string{"one.jpg", "two.jpg"},
		AlsoPostUpdate: true,
	})
	if err != nil {
		t.Fatalf("CreatePrayerRequest: %v", err)
	}

	prayer := result["prayer"].(content.Item)
	mirror := result["update"].(content.Item)

	// Growing the mirror's image list must not write into the prayer's.
	mirror.Images = append(mirror.Images, "extra.jpg")
	if len(prayer.Images) != 2 || prayer.Images[1] != "two.jpg" {
		t.Fatalf("prayer images corrupted by mirror append: %v", prayer.Images)
	}
}

func TestCreatePrayerWithoutCrossPost(t *testing.T) {
	fs := &fakeStore{
		getProfileFn:  profileFixture(store.Profile{ID: "prf1"}),
		profileRoleFn: fixedRole("owner"),
	}
	svc := newTestService(fs)

	_, err := svc.CreatePrayerRequest(context.Background(), "prf1", testSession, PrayerInput{Text: "quietly"})
	if err != nil {
		t.Fatalf("CreatePrayerRequest: %v", err)
	}

	sections := fs.saved[0]
	if _, present := sections["updates"]; present {
		t.Fatalf("no mirror expected without the cross-post flag")
	}
	posts := itemsFrom(sections, "profilePosts")
	if len(posts) != 1 || posts[0].ShowInUpdatesFeed {
		t.Fatalf("plain prayer must stay out of the visible feed: %v", posts)
	}
}

func TestCreatePrayerCrossPostDegrades(t *testing.T) {
	calls := 0
	fs := &fakeStore{
		getProfileFn:  profileFixture(store.Profile{ID: "prf1"}),
		profileRoleFn: fixedRole("owner"),
	}
	fs.saveProfileSectionsFn = func(_ context.Context, _ string, sections map[string]any) error {
		calls++
		if calls == 1 {
			return errors.New("jsonb write conflict")
		}
		return nil
	}
	svc := newTestService(fs)

	_, err := svc.CreatePrayerRequest(context.Background(), "prf1", testSession, PrayerInput{
		Text:           "Pray for rain",
		AlsoPostUpdate: true,
	})
	if err != nil {
		t.Fatalf("degraded path must still succeed: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected combined + primary + secondary writes, got %d", calls)
	}

	// The second write is the prayer-only fallback.
	primary := fs.saved[0]
	if _, present := primary["updates"]; present {
		t.Fatalf("primary fallback must not touch updates: %v", primary)
	}
	if len(itemsFrom(primary, "prayerRequests")) != 1 {
		t.Fatalf("primary fallback must persist the prayer: %v", primary)
	}
}

func TestCreatePrayerPrimaryFailurePropagates(t *testing.T) {
	fs := &fakeStore{
		getProfileFn:  profileFixture(store.Profile{ID: "prf1"}),
		profileRoleFn: fixedRole("owner"),
	}
	fs.saveProfileSectionsFn = func(context.Context, string, map[string]any) error {
		return errors.New("database down")
	}
	svc := newTestService(fs)

	_, err := svc.CreatePrayerRequest(context.Background(), "prf1", testSession, PrayerInput{
		Text:           "Pray for rain",
		AlsoPostUpdate: true,
	})
	assertDomainCode(t, err, "PERSISTENCE_ERROR")
}

func TestCreateFundingValidation(t *testing.T) {
	fs := &fakeStore{
		getProfileFn:  profileFixture(store.Profile{ID: "prf1"}),
		profileRoleFn: fixedRole("owner"),
	}
	svc := newTestService(fs)
	ctx := context.Background()

	_, err := svc.CreateFundingNeed(ctx, "prf1", testSession, FundingInput{Title: "Roof", TargetAmount: -5})
	assertDomainCode(t, err, "VALIDATION_ERROR")

	_, err = svc.CreateFundingNeed(ctx, "prf1", testSession, FundingInput{Title: "Roof", TargetAmount: 100, Currency: "dollars"})
	assertDomainCode(t, err, "VALIDATION_ERROR")

	result, err := svc.CreateFundingNeed(ctx, "prf1", testSession, FundingInput{Title: "Roof", TargetAmount: 100, Currency: "usd"})
	if err != nil {
		t.Fatalf("valid funding need rejected: %v", err)
	}
	item := result["item"].(content.Item)
	if item.Currency != "USD" || item.TargetAmount != 100 {
		t.Fatalf("item = %+v", item)
	}
	if item.ShowInUpdatesFeed {
		t.Fatalf("funding needs never surface in the feed")
	}
}

func TestDeleteItemRebuildsFeed(t *testing.T) {
	existing := content.Item{ID: "itm1", Type: content.TypeUpdate, CreatedAt: "2025-01-01T00:00:00Z", ShowInUpdatesFeed: true}
	fs := &fakeStore{
		getProfileFn: profileFixture(store.Profile{
			ID:           "prf1",
			Updates:      []content.Item{existing},
			ProfilePosts: []content.Item{existing},
		}),
		profileRoleFn: fixedRole("representative"),
	}
	svc := newTestService(fs)

	result, err := svc.DeleteItem(context.Background(), "prf1", testSession, "update", "itm1")
	if err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if len(itemsFrom(fs.saved[0], "updates")) != 0 {
		t.Fatalf("item not removed: %v", fs.saved[0])
	}
	if len(itemsFrom(fs.saved[0], "profilePosts")) != 0 {
		t.Fatalf("feed not rebuilt after delete: %v", fs.saved[0])
	}
	if result["deleted"] != "itm1" {
		t.Fatalf("result = %v", result)
	}

	_, err = svc.DeleteItem(context.Background(), "prf1", testSession, "update", "ghost")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("unknown item: err = %v", err)
	}
}

func TestAddCommentRespectsCommentStatus(t *testing.T) {
	prayer := func(status content.CommentStatus) store.Profile {
		return store.Profile{
			ID: "prf1",
			PrayerRequests: []content.Item{{
				ID: "itm1", Type: content.TypePrayer, CommentStatus: status,
				Comments: []content.Comment{{ID: "c0", Text: "earlier"}},
			}},
		}
	}

	for _, status := range []content.CommentStatus{content.CommentsFreeze, content.CommentsOff} {
		fs := &fakeStore{
			getProfileFn:  profileFixture(prayer(status)),
			profileRoleFn: fixedRole("supporter"),
		}
		svc := newTestService(fs)
		_, err := svc.AddComment(context.Background(), "prf1", testSession, "prayer", "itm1", CommentInput{Text: "me too"})
		assertDomainCode(t, err, "FORBIDDEN")
		if len(fs.saved) != 0 {
			t.Fatalf("status %s: nothing may be saved", status)
		}
	}

	fs := &fakeStore{
		getProfileFn:  profileFixture(prayer(content.CommentsOn)),
		profileRoleFn: fixedRole("supporter"),
	}
	svc := newTestService(fs)
	result, err := svc.AddComment(context.Background(), "prf1", testSession, "prayer", "itm1", CommentInput{Text: "me too"})
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	saved := itemsFrom(fs.saved[0], "prayerRequests")
	if len(saved[0].Comments) != 2 {
		t.Fatalf("comments = %v", saved[0].Comments)
	}
	if result["comment"] == nil {
		t.Fatalf("result = %v", result)
	}
}

func TestAddCommentRequiresSupporter(t *testing.T) {
	fs := &fakeStore{
		getProfileFn: profileFixture(store.Profile{
			ID:      "prf1",
			Updates: []content.Item{{ID: "itm1", Type: content.TypeUpdate}},
		}),
		profileRoleFn: fixedRole(""),
	}
	svc := newTestService(fs)

	_, err := svc.AddComment(context.Background(), "prf1", Session{}, "update", "itm1", CommentInput{Text: "nice"})
	assertDomainCode(t, err, "FORBIDDEN")
}

func TestSetCommentStatusOffClearsComments(t *testing.T) {
	profile := store.Profile{
		ID: "prf1",
		PrayerRequests: []content.Item{{
			ID: "itm1", Type: content.TypePrayer, CommentStatus: content.CommentsOn,
			Comments: []content.Comment{{ID: "c1", Text: "praying"}},
		}},
	}
	fs := &fakeStore{
		getProfileFn:  profileFixture(profile),
		profileRoleFn: fixedRole("representative"),
	}
	svc := newTestService(fs)

	_, err := svc.SetCommentStatus(context.Background(), "prf1", testSession, "itm1", "off")
	if err != nil {
		t.Fatalf("SetCommentStatus: %v", err)
	}
	saved := itemsFrom(fs.saved[0], "prayerRequests")
	if saved[0].CommentStatus != content.CommentsOff {
		t.Fatalf("status = %q", saved[0].CommentStatus)
	}
	if len(saved[0].Comments) != 0 {
		t.Fatalf("off must clear comments: %v", saved[0].Comments)
	}
}

func TestSetCommentStatusFreezeKeepsComments(t *testing.T) {
	profile := store.Profile{
		ID: "prf1",
		PrayerRequests: []content.Item{{
			ID: "itm1", Type: content.TypePrayer, CommentStatus: content.CommentsOn,
			Comments: []content.Comment{{ID: "c1", Text: "praying"}},
		}},
	}
	fs := &fakeStore{
		getProfileFn:  profileFixture(profile),
		profileRoleFn: fixedRole("owner"),
	}
	svc := newTestService(fs)

	_, err := svc.SetCommentStatus(context.Background(), "prf1", testSession, "itm1", "freeze")
	if err != nil {
		t.Fatalf("SetCommentStatus: %v", err)
	}
	saved := itemsFrom(fs.saved[0], "prayerRequests")
	if saved[0].CommentStatus != content.CommentsFreeze || len(saved[0].Comments) != 1 {
		t.Fatalf("freeze must keep comments: %+v", saved[0])
	}
}

func TestSetCommentStatusRejectsUnknown(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.SetCommentStatus(context.Background(), "prf1", testSession, "itm1", "sideways")
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestToggleReactionDelegatesToStore(t *testing.T) {
	var gotKind string
	fs := &fakeStore{
		getProfileFn:  profileFixture(store.Profile{ID: "prf1"}),
		profileRoleFn: fixedRole("supporter"),
		toggleReactionFn: func(_ context.Context, _ string, _ content.ItemType, _ string, kind, accountID string) (bool, error) {
			gotKind = kind
			if accountID != "acc1" {
				t.Errorf("accountID = %s", accountID)
			}
			return true, nil
		},
	}
	svc := newTestService(fs)

	result, err := svc.ToggleReaction(context.Background(), "prf1", testSession, "update", "itm1", ReactionInput{Kind: "pray"})
	if err != nil {
		t.Fatalf("ToggleReaction: %v", err)
	}
	if gotKind != "pray" || result["reacted"] != true {
		t.Fatalf("result = %v, kind = %s", result, gotKind)
	}
}

func TestToggleReactionRequiresSupporter(t *testing.T) {
	called := false
	fs := &fakeStore{
		getProfileFn:  profileFixture(store.Profile{ID: "prf1"}),
		profileRoleFn: fixedRole(""),
		toggleReactionFn: func(context.Context, string, content.ItemType, string, string, string) (bool, error) {
			called = true
			return false, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.ToggleReaction(context.Background(), "prf1", Session{}, "update", "itm1", ReactionInput{Kind: "pray"})
	assertDomainCode(t, err, "FORBIDDEN")
	if called {
		t.Fatalf("store must not be touched on a denied toggle")
	}
}

func TestProfileViewFiltersSections(t *testing.T) {
	profile := store.Profile{
		ID:             "prf1",
		Name:           "Hope Farm",
		Kind:           "project",
		Updates:        []content.Item{{ID: "u1", Type: content.TypeUpdate, ShowInUpdatesFeed: true}},
		PrayerRequests: []content.Item{{ID: "p1", Type: content.TypePrayer}},
		FundingNeeds:   []content.Item{{ID: "f1", Type: content.TypeFunding}},
	}

	fs := &fakeStore{getProfileFn: profileFixture(profile), profileRoleFn: fixedRole("")}
	svc := newTestService(fs)

	view, err := svc.ProfileView(context.Background(), "prf1", Session{})
	if err != nil {
		t.Fatalf("ProfileView: %v", err)
	}
	if view["updates"] == nil {
		t.Errorf("updates are public by default")
	}
	if _, present := view["prayerRequests"]; present {
		t.Errorf("prayer requests leaked to a public viewer")
	}
	if _, present := view["fundingNeeds"]; present {
		t.Errorf("funding needs leaked to a public viewer")
	}
	if _, present := view["accessSettings"]; present {
		t.Errorf("access settings leaked to a public viewer")
	}

	fs.profileRoleFn = fixedRole("owner")
	view, err = svc.ProfileView(context.Background(), "prf1", testSession)
	if err != nil {
		t.Fatalf("ProfileView as owner: %v", err)
	}
	for _, key := range []string{"updates", "prayerRequests", "fundingNeeds", "accessSettings"} {
		if _, present := view[key]; !present {
			t.Errorf("owner view missing %s", key)
		}
	}
}

func TestFeedRespectsTagAndVisibility(t *testing.T) {
	profile := store.Profile{
		ID: "prf1",
		ProfilePosts: []content.Item{
			{ID: "a", Type: content.TypeUpdate, ShowInUpdatesFeed: true, Tags: []string{"prayer"}},
			{ID: "b", Type: content.TypeUpdate, ShowInUpdatesFeed: true},
			{ID: "c", Type: content.TypePrayer, ShowInUpdatesFeed: false},
		},
	}
	fs := &fakeStore{getProfileFn: profileFixture(profile), profileRoleFn: fixedRole("")}
	svc := newTestService(fs)

	feed, err := svc.Feed(context.Background(), "prf1", Session{}, "prayer")
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	items := feed["items"].([]content.Item)
	if len(items) != 1 || items[0].ID != "a" {
		t.Fatalf("items = %v", items)
	}
}

func TestUpdateAccessSettingsOwnerOnly(t *testing.T) {
	fs := &fakeStore{
		getProfileFn:  profileFixture(store.Profile{ID: "prf1"}),
		profileRoleFn: fixedRole("representative"),
	}
	svc := newTestService(fs)

	_, err := svc.UpdateAccessSettings(context.Background(), "prf1", testSession, map[string]any{"finance": "supporter"})
	assertDomainCode(t, err, "FORBIDDEN")

	fs.profileRoleFn = fixedRole("owner")
	_, err = svc.UpdateAccessSettings(context.Background(), "prf1", testSession, map[string]any{"finance": "supporter"})
	if err != nil {
		t.Fatalf("UpdateAccessSettings: %v", err)
	}

	doc := fs.saved[0]["accessSettings"].(map[string]any)
	finance := doc["finance"].(map[string]any)
	view := finance["view"].([]any)
	found := false
	for _, role := range view {
		if role == "supporter" {
			found = true
		}
	}
	if !found {
		t.Fatalf("legacy threshold not expanded: %v", finance)
	}
}

func TestCreateProfileValidation(t *testing.T) {
	svc := newTestService(&fakeStore{})
	ctx := context.Background()

	_, err := svc.CreateProfile(ctx, Session{}, "project", "Hope Farm")
	assertDomainCode(t, err, "FORBIDDEN")

	_, err = svc.CreateProfile(ctx, testSession, "club", "Hope Farm")
	assertDomainCode(t, err, "VALIDATION_ERROR")

	_, err = svc.CreateProfile(ctx, testSession, "project", "   ")
	assertDomainCode(t, err, "VALIDATION_ERROR")
}
