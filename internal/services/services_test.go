package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/exambook/apiserver/internal/auth"
	"github.com/exambook/apiserver/internal/mail"
	"github.com/exambook/apiserver/internal/media"
	"github.com/exambook/apiserver/internal/store"
	"github.com/exambook/apiserver/types"
)

type fakeMedia struct {
	mu      sync.Mutex
	deleted []string
	fail    bool
}

func (f *fakeMedia) Delete(_ context.Context, mediaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, mediaID)
	if f.fail {
		return errors.New("media host unavailable")
	}
	return nil
}

func (f *fakeMedia) wasDeleted(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deleted {
		if d == id {
			return true
		}
	}
	return false
}

type fakeGeocoder struct {
	calls int
}

func (g *fakeGeocoder) Reverse(_ context.Context, lat, lng float64) string {
	g.calls++
	return "Somewhere"
}

type fakeMailer struct {
	sent []mail.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func upload(id string) UploadContext {
	return UploadContext{Image: &media.Image{URL: "https://cdn/" + id, MediaID: id}}
}

type bookFixture struct {
	svc      *BookService
	users    *store.MemoryUserRepository
	books    *store.MemoryBookRepository
	media    *fakeMedia
	geocoder *fakeGeocoder
	seller   types.User
	other    types.User
}

func newBookFixture(t *testing.T) *bookFixture {
	t.Helper()

	users := store.NewMemoryUserRepository()
	seller, err := users.Create(context.Background(), types.User{Name: "U1", Email: "u1@example.com", Phone: "1234567890"})
	if err != nil {
		t.Fatalf("create seller: %v", err)
	}
	other, err := users.Create(context.Background(), types.User{Name: "U2", Email: "u2@example.com", Phone: "0987654321"})
	if err != nil {
		t.Fatalf("create other: %v", err)
	}
	books := store.NewMemoryBookRepository(users)
	m := &fakeMedia{}
	g := &fakeGeocoder{}
	return &bookFixture{
		svc:      NewBookService(books, m, g),
		users:    users,
		books:    books,
		media:    m,
		geocoder: g,
		seller:   seller,
		other:    other,
	}
}

func (f *bookFixture) create(t *testing.T) types.Book {
	t.Helper()

	book, err := f.svc.Create(context.Background(), f.seller.ID, BookInput{
		Title:    "Algebra",
		Author:   "X",
		Price:    100,
		Location: &types.Coordinates{Latitude: 12.9, Longitude: 77.6},
	}, upload("books/algebra.jpg"))
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	return book
}

func TestCreateBookEnrichesLocation(t *testing.T) {
	f := newBookFixture(t)
	book := f.create(t)

	if book.Location == nil || book.Location.Coordinates != [2]float64{77.6, 12.9} {
		t.Fatalf("unexpected location: %+v", book.Location)
	}
	if book.Location.FormattedAddress != "Somewhere" || f.geocoder.calls != 1 {
		t.Fatalf("expected geocoded address, got %q after %d calls", book.Location.FormattedAddress, f.geocoder.calls)
	}
	if book.Condition != types.ConditionUsed {
		t.Fatalf("expected default condition used, got %q", book.Condition)
	}
	if book.Seller == nil || book.Seller.Email != "u1@example.com" {
		t.Fatalf("expected seller projection, got %+v", book.Seller)
	}
	if book.ImageMediaID != "books/algebra.jpg" {
		t.Fatalf("unexpected media id: %q", book.ImageMediaID)
	}
}

func TestCreateBookRequiresImage(t *testing.T) {
	f := newBookFixture(t)
	_, err := f.svc.Create(context.Background(), f.seller.ID, BookInput{Title: "A", Author: "B", Price: 1}, UploadContext{})
	if !errors.Is(err, ErrImageRequired) {
		t.Fatalf("expected ErrImageRequired, got %v", err)
	}
}

func TestUpdateByNonOwnerIsForbidden(t *testing.T) {
	f := newBookFixture(t)
	book := f.create(t)
	ctx := context.Background()

	title := "Hijacked"
	_, err := f.svc.Update(ctx, f.other.ID, book.ID, BookPatch{Title: &title}, upload("books/fresh.jpg"))
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if !f.media.wasDeleted("books/fresh.jpg") {
		t.Fatalf("expected fresh upload to be discarded")
	}

	after, _ := f.svc.Get(ctx, book.ID)
	if after.Title != "Algebra" || after.ImageMediaID != "books/algebra.jpg" {
		t.Fatalf("book changed after forbidden update: %+v", after)
	}

	if err := f.svc.Delete(ctx, f.other.ID, book.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden on delete, got %v", err)
	}
	if _, err := f.svc.Get(ctx, book.ID); err != nil {
		t.Fatalf("book should still exist: %v", err)
	}
}

func TestUpdateMissingBookIsNotFound(t *testing.T) {
	f := newBookFixture(t)
	_, err := f.svc.Update(context.Background(), f.seller.ID, store.NewID(), BookPatch{}, upload("books/orphan.jpg"))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !f.media.wasDeleted("books/orphan.jpg") {
		t.Fatalf("expected fresh upload to be discarded")
	}
}

func TestUpdateIsPartialAndReplacesImage(t *testing.T) {
	f := newBookFixture(t)
	book := f.create(t)
	f.media.fail = true

	price := 80.0
	updated, err := f.svc.Update(context.Background(), f.seller.ID, book.ID, BookPatch{
		Price:    &price,
		Location: &types.Coordinates{Latitude: 13.1, Longitude: 77.5},
	}, upload("books/new.jpg"))
	if err != nil {
		t.Fatalf("update should survive media delete failure: %v", err)
	}
	if updated.Title != "Algebra" || updated.Price != 80 {
		t.Fatalf("unexpected partial update: %+v", updated)
	}
	if updated.ImageMediaID != "books/new.jpg" || !f.media.wasDeleted("books/algebra.jpg") {
		t.Fatalf("expected image swap, got %q", updated.ImageMediaID)
	}
	if updated.Location.Coordinates != [2]float64{77.5, 13.1} || f.geocoder.calls != 2 {
		t.Fatalf("expected re-geocoded location, got %+v", updated.Location)
	}

	same := &types.Coordinates{Latitude: 13.1, Longitude: 77.5}
	if _, err := f.svc.Update(context.Background(), f.seller.ID, book.ID, BookPatch{Location: same}, UploadContext{}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if f.geocoder.calls != 2 {
		t.Fatalf("unchanged coordinates should not be re-geocoded")
	}
}

type failingBookRepo struct {
	*store.MemoryBookRepository
}

func (failingBookRepo) Update(context.Context, types.Book) (types.Book, error) {
	return types.Book{}, errors.New("connection reset")
}

func TestUpdateFailureDiscardsFreshUpload(t *testing.T) {
	f := newBookFixture(t)
	book := f.create(t)
	svc := NewBookService(failingBookRepo{f.books}, f.media, f.geocoder)

	title := "Geometry"
	_, err := svc.Update(context.Background(), f.seller.ID, book.ID, BookPatch{Title: &title}, upload("books/fresh.jpg"))
	if err == nil {
		t.Fatalf("expected update error")
	}
	if !f.media.wasDeleted("books/fresh.jpg") {
		t.Fatalf("expected fresh upload to be discarded")
	}
}

func TestDeleteByOwnerRemovesMediaAndRecord(t *testing.T) {
	f := newBookFixture(t)
	book := f.create(t)
	ctx := context.Background()

	if err := f.svc.Delete(ctx, f.seller.ID, book.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !f.media.wasDeleted("books/algebra.jpg") {
		t.Fatalf("expected media delete")
	}
	if _, err := f.svc.Get(ctx, book.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchComputesTotalPages(t *testing.T) {
	f := newBookFixture(t)
	for i := 0; i < 3; i++ {
		f.create(t)
	}

	page, err := f.svc.Search(context.Background(), types.BookQuery{Page: 5, Limit: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.Total != 3 || page.TotalPages != 2 || len(page.Books) != 0 || page.Page != 5 {
		t.Fatalf("unexpected page: %+v", page)
	}
}

type userFixture struct {
	svc      *UserService
	users    *store.MemoryUserRepository
	contacts *store.MemoryContactRepository
	tokens   *auth.Tokens
	mailer   *fakeMailer
	media    *fakeMedia
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()

	tokens, err := auth.NewTokens(auth.TokenConfig{AccessSecret: "a", RefreshSecret: "r", ResetSecret: "s"})
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	users := store.NewMemoryUserRepository()
	contacts := store.NewMemoryContactRepository()
	m := &fakeMailer{}
	med := &fakeMedia{}
	svc := NewUserService(users, contacts, tokens, auth.NewMemoryRevoker(), m, med, UserOptions{
		FrontendURL:  "http://localhost:5173",
		ContactInbox: "inbox@example.com",
	})
	return &userFixture{svc: svc, users: users, contacts: contacts, tokens: tokens, mailer: m, media: med}
}

func (f *userFixture) register(t *testing.T, email string) types.User {
	t.Helper()

	user, _, err := f.svc.Register(context.Background(), RegisterInput{
		Name: "Reader", Email: email, Phone: "1234567890", Password: "password123",
	}, UploadContext{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return user
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	f := newUserFixture(t)
	f.register(t, "Reader@Example.com")

	_, _, err := f.svc.Register(context.Background(), RegisterInput{
		Name: "Again", Email: "READER@example.com", Phone: "1234567890", Password: "password123",
	}, upload("users/dup.jpg"))
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if !f.media.wasDeleted("users/dup.jpg") {
		t.Fatalf("expected photo of rejected registration to be deleted")
	}
}

func TestAuthenticate(t *testing.T) {
	f := newUserFixture(t)
	f.register(t, "reader@example.com")
	ctx := context.Background()

	if _, _, err := f.svc.Authenticate(ctx, "nobody@example.com", "password123"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := f.svc.Authenticate(ctx, "reader@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	user, session, err := f.svc.Authenticate(ctx, "READER@example.com", "password123")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	claims, err := f.tokens.ParseAccess(session.AccessToken)
	if err != nil || claims.Subject != user.ID {
		t.Fatalf("unexpected access token claims %+v: %v", claims, err)
	}
}

func TestRefreshAndLogout(t *testing.T) {
	f := newUserFixture(t)
	f.register(t, "reader@example.com")
	ctx := context.Background()

	_, session, err := f.svc.Authenticate(ctx, "reader@example.com", "password123")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, _, err := f.svc.Refresh(ctx, session.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, _, err := f.svc.Refresh(ctx, session.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token must not refresh, got %v", err)
	}

	f.svc.Logout(ctx, session.RefreshToken)
	if _, _, err := f.svc.Refresh(ctx, session.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected revoked refresh token to fail, got %v", err)
	}
}

func TestPasswordResetIsOneTime(t *testing.T) {
	f := newUserFixture(t)
	user := f.register(t, "reader@example.com")
	ctx := context.Background()

	if err := f.svc.RequestPasswordReset(ctx, "missing@example.com"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := f.svc.RequestPasswordReset(ctx, "reader@example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if len(f.mailer.sent) != 1 || f.mailer.sent[0].To != "reader@example.com" {
		t.Fatalf("expected one reset mail, got %+v", f.mailer.sent)
	}

	token, _, err := f.tokens.IssueReset(user.ID)
	if err != nil {
		t.Fatalf("issue reset: %v", err)
	}
	claims, err := f.svc.VerifyResetToken(ctx, token)
	if err != nil || claims.Subject != user.ID {
		t.Fatalf("verify: %+v %v", claims, err)
	}
	if err := f.svc.ResetPassword(ctx, token, "new-password"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, _, err := f.svc.Authenticate(ctx, "reader@example.com", "new-password"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if err := f.svc.ResetPassword(ctx, token, "another-password"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected reused token to fail, got %v", err)
	}
}

func TestResetMailFailureIsReturned(t *testing.T) {
	f := newUserFixture(t)
	f.register(t, "reader@example.com")
	f.mailer.err = errors.New("smtp down")

	if err := f.svc.RequestPasswordReset(context.Background(), "reader@example.com"); err == nil {
		t.Fatalf("expected mail failure to be returned")
	}
}

func TestUpdateProfileOwnershipAndDuplicates(t *testing.T) {
	f := newUserFixture(t)
	ann := f.register(t, "ann@example.com")
	bob := f.register(t, "bob@example.com")
	ctx := context.Background()

	name := "Annabel"
	if _, err := f.svc.UpdateProfile(ctx, bob.ID, ann.ID, ProfilePatch{Name: &name}, UploadContext{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	taken := "BOB@example.com"
	if _, err := f.svc.UpdateProfile(ctx, ann.ID, ann.ID, ProfilePatch{Email: &taken}, upload("users/new.jpg")); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if !f.media.wasDeleted("users/new.jpg") {
		t.Fatalf("expected upload of failed update to be discarded")
	}

	updated, err := f.svc.UpdateProfile(ctx, ann.ID, ann.ID, ProfilePatch{Name: &name}, upload("users/ann.jpg"))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Annabel" || updated.Email != "ann@example.com" || updated.ImageMediaID != "users/ann.jpg" {
		t.Fatalf("unexpected profile: %+v", updated)
	}
}

func TestContactPersistsBeforeMailing(t *testing.T) {
	f := newUserFixture(t)
	f.mailer.err = errors.New("smtp down")

	contact, err := f.svc.Contact(context.Background(), ContactInput{Name: "Ann", Email: "Ann@Example.com", Message: "Hi"})
	if err == nil {
		t.Fatalf("expected notification failure")
	}
	if contact.ID == "" || len(f.contacts.All()) != 1 {
		t.Fatalf("expected contact to be stored despite mail failure")
	}
}
