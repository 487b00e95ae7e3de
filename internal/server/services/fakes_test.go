package services

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dkovalev/vaultcore/internal/common"
	"github.com/dkovalev/vaultcore/internal/dbx"
	"github.com/dkovalev/vaultcore/internal/logging"
	"github.com/dkovalev/vaultcore/internal/server/models"
	accountsrepo "github.com/dkovalev/vaultcore/internal/server/repositories/accounts"
	attachmentsrepo "github.com/dkovalev/vaultcore/internal/server/repositories/attachments"
	entriesrepo "github.com/dkovalev/vaultcore/internal/server/repositories/entries"
	handshakesrepo "github.com/dkovalev/vaultcore/internal/server/repositories/handshakes"
	sessionsrepo "github.com/dkovalev/vaultcore/internal/server/repositories/sessions"
	"github.com/dkovalev/vaultcore/internal/server/repositories/repomanager"
)

// fakeStore is a shared in-memory backing store for all fake repositories,
// so service tests can exercise multi-repository flows and then inspect the
// resulting state directly. The real DB handle only provides Begin/Commit
// for dbx.WithTx; no SQL runs against it.
type fakeStore struct {
	accounts    map[string]*models.Account
	handshakes  map[string]*models.Handshake
	sessions    map[string]*models.Session
	entries     map[string]*models.DataEntry
	attachments map[string]*models.Attachment

	// forcedErr, when set, is returned by account lookups to simulate a
	// storage failure below the service layer.
	forcedErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:    make(map[string]*models.Account),
		handshakes:  make(map[string]*models.Handshake),
		sessions:    make(map[string]*models.Session),
		entries:     make(map[string]*models.DataEntry),
		attachments: make(map[string]*models.Attachment),
	}
}

type fakeAccountsRepo struct{ s *fakeStore }

func (f *fakeAccountsRepo) Create(ctx context.Context, a *models.Account) (*models.Account, error) {
	for _, other := range f.s.accounts {
		if string(other.UsernameHash) == string(a.UsernameHash) {
			return nil, common.ErrorDuplicateAccount
		}
	}
	a.ID = uuid.New().String()
	a.CreatedAt = time.Now()
	f.s.accounts[a.ID] = a
	return a, nil
}

func (f *fakeAccountsRepo) GetByUsernameHash(ctx context.Context, usernameHash []byte) (*models.Account, error) {
	if f.s.forcedErr != nil {
		return nil, f.s.forcedErr
	}
	for _, a := range f.s.accounts {
		if string(a.UsernameHash) == string(usernameHash) {
			return a, nil
		}
	}
	return nil, common.ErrorAccountNotFound
}

func (f *fakeAccountsRepo) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if f.s.forcedErr != nil {
		return nil, f.s.forcedErr
	}
	a, ok := f.s.accounts[id]
	if !ok {
		return nil, common.ErrorAccountNotFound
	}
	return a, nil
}

func (f *fakeAccountsRepo) UpdateUsernameHash(ctx context.Context, id string, usernameHash []byte) error {
	for otherID, other := range f.s.accounts {
		if otherID != id && string(other.UsernameHash) == string(usernameHash) {
			return common.ErrorDuplicateAccount
		}
	}
	a, ok := f.s.accounts[id]
	if !ok {
		return common.ErrorAccountNotFound
	}
	a.UsernameHash = usernameHash
	return nil
}

func (f *fakeAccountsRepo) SetRotation(ctx context.Context, id string, rotating bool) error {
	a, ok := f.s.accounts[id]
	if !ok {
		return common.ErrorAccountNotFound
	}
	a.RotationInProgress = rotating
	return nil
}

func (f *fakeAccountsRepo) StageCredentials(ctx context.Context, id string, srpSalt, srpVerifier, masterKeySalt []byte) error {
	a, ok := f.s.accounts[id]
	if !ok {
		return common.ErrorAccountNotFound
	}
	a.StagedSRPSalt = srpSalt
	a.StagedSRPVerifier = srpVerifier
	a.StagedMasterKeySalt = masterKeySalt
	return nil
}

func (f *fakeAccountsRepo) PromoteStaged(ctx context.Context, id string) error {
	a, ok := f.s.accounts[id]
	if !ok || a.StagedSRPVerifier == nil {
		return common.ErrorAccountNotFound
	}
	a.SRPSalt = a.StagedSRPSalt
	a.SRPVerifier = a.StagedSRPVerifier
	a.MasterKeySalt = a.StagedMasterKeySalt
	a.StagedSRPSalt = nil
	a.StagedSRPVerifier = nil
	a.StagedMasterKeySalt = nil
	a.RotationInProgress = false
	return nil
}

func (f *fakeAccountsRepo) ClearRotation(ctx context.Context, id string) error {
	a, ok := f.s.accounts[id]
	if !ok {
		return common.ErrorAccountNotFound
	}
	a.StagedSRPSalt = nil
	a.StagedSRPVerifier = nil
	a.StagedMasterKeySalt = nil
	a.RotationInProgress = false
	return nil
}

func (f *fakeAccountsRepo) Delete(ctx context.Context, id string) error {
	if _, ok := f.s.accounts[id]; !ok {
		return common.ErrorAccountNotFound
	}
	delete(f.s.accounts, id)
	for hid, h := range f.s.handshakes {
		if h.AccountID == id {
			delete(f.s.handshakes, hid)
		}
	}
	for sid, s := range f.s.sessions {
		if s.AccountID == id {
			delete(f.s.sessions, sid)
		}
	}
	for eid, e := range f.s.entries {
		if e.AccountID == id {
			delete(f.s.entries, eid)
			delete(f.s.attachments, eid)
		}
	}
	return nil
}

type fakeHandshakesRepo struct{ s *fakeStore }

func (f *fakeHandshakesRepo) Create(ctx context.Context, h *models.Handshake) (*models.Handshake, error) {
	h.ID = uuid.New().String()
	h.CreatedAt = time.Now()
	f.s.handshakes[h.ID] = h
	return h, nil
}

func (f *fakeHandshakesRepo) GetByPublicID(ctx context.Context, publicID string) (*models.Handshake, error) {
	for _, h := range f.s.handshakes {
		if h.PublicID == publicID {
			return h, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeHandshakesRepo) Delete(ctx context.Context, id string) error {
	if _, ok := f.s.handshakes[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.s.handshakes, id)
	return nil
}

func (f *fakeHandshakesRepo) DeleteAllForAccount(ctx context.Context, accountID string) error {
	for id, h := range f.s.handshakes {
		if h.AccountID == accountID {
			delete(f.s.handshakes, id)
		}
	}
	return nil
}

func (f *fakeHandshakesRepo) SelectAll(ctx context.Context) ([]*models.Handshake, error) {
	var result []*models.Handshake
	for _, h := range f.s.handshakes {
		result = append(result, h)
	}
	return result, nil
}

type fakeSessionsRepo struct{ s *fakeStore }

func (f *fakeSessionsRepo) Create(ctx context.Context, sess *models.Session) (*models.Session, error) {
	for _, other := range f.s.sessions {
		if string(other.SessionKey) == string(sess.SessionKey) {
			return nil, fmt.Errorf("db error: duplicate session key")
		}
	}
	sess.ID = uuid.New().String()
	sess.CreatedAt = time.Now()
	sess.LastUsed = sess.CreatedAt
	f.s.sessions[sess.ID] = sess
	return sess, nil
}

func (f *fakeSessionsRepo) GetByPublicID(ctx context.Context, publicID string) (*models.Session, error) {
	for _, sess := range f.s.sessions {
		if sess.PublicID == publicID {
			return sess, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeSessionsRepo) GetByID(ctx context.Context, id string) (*models.Session, error) {
	sess, ok := f.s.sessions[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return sess, nil
}

func (f *fakeSessionsRepo) LogUse(ctx context.Context, id string, now time.Time) error {
	sess, ok := f.s.sessions[id]
	if !ok {
		return common.ErrorNotFound
	}
	sess.RequestCount++
	sess.LastUsed = now
	return nil
}

func (f *fakeSessionsRepo) Delete(ctx context.Context, id string) error {
	if _, ok := f.s.sessions[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.s.sessions, id)
	return nil
}

func (f *fakeSessionsRepo) DeleteAllForAccount(ctx context.Context, accountID string) error {
	for id, sess := range f.s.sessions {
		if sess.AccountID == accountID {
			delete(f.s.sessions, id)
		}
	}
	return nil
}

func (f *fakeSessionsRepo) DeleteAllForAccountExcept(ctx context.Context, accountID, keepPublicID string) error {
	for id, sess := range f.s.sessions {
		if sess.AccountID == accountID && sess.PublicID != keepPublicID {
			delete(f.s.sessions, id)
		}
	}
	return nil
}

func (f *fakeSessionsRepo) ClearRotation(ctx context.Context, accountID, publicID string) error {
	for _, sess := range f.s.sessions {
		if sess.AccountID == accountID && sess.PublicID == publicID {
			sess.Rotation = false
			return nil
		}
	}
	return common.ErrorNotFound
}

func (f *fakeSessionsRepo) SelectByAccount(ctx context.Context, accountID string) ([]*models.Session, error) {
	var result []*models.Session
	for _, sess := range f.s.sessions {
		if sess.AccountID == accountID {
			result = append(result, sess)
		}
	}
	return result, nil
}

func (f *fakeSessionsRepo) SelectAll(ctx context.Context) ([]*models.Session, error) {
	var result []*models.Session
	for _, sess := range f.s.sessions {
		result = append(result, sess)
	}
	return result, nil
}

type fakeEntriesRepo struct{ s *fakeStore }

func (f *fakeEntriesRepo) Create(ctx context.Context, e *models.DataEntry) (*models.DataEntry, error) {
	e.ID = uuid.New().String()
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	f.s.entries[e.ID] = e
	return e, nil
}

func (f *fakeEntriesRepo) GetByPublicID(ctx context.Context, publicID string) (*models.DataEntry, error) {
	for _, e := range f.s.entries {
		if e.PublicID == publicID {
			return e, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeEntriesRepo) SelectByAccount(ctx context.Context, accountID string) ([]*models.DataEntry, error) {
	var result []*models.DataEntry
	for _, e := range f.s.entries {
		if e.AccountID == accountID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (f *fakeEntriesRepo) Update(ctx context.Context, id string, name, data []byte) error {
	e, ok := f.s.entries[id]
	if !ok {
		return common.ErrorNotFound
	}
	if name != nil {
		e.Name = name
	}
	if data != nil {
		e.Data = data
	}
	e.UpdatedAt = time.Now()
	return nil
}

func (f *fakeEntriesRepo) StageEdit(ctx context.Context, id string, name, data []byte) error {
	e, ok := f.s.entries[id]
	if !ok {
		return common.ErrorNotFound
	}
	if name != nil {
		e.StagedName = name
	}
	if data != nil {
		e.StagedData = data
	}
	return nil
}

func (f *fakeEntriesRepo) DiscardStaged(ctx context.Context, id string) error {
	e, ok := f.s.entries[id]
	if !ok {
		return common.ErrorNotFound
	}
	e.StagedName = nil
	e.StagedData = nil
	return nil
}

func (f *fakeEntriesRepo) PromoteStagedForAccount(ctx context.Context, accountID string) error {
	for _, e := range f.s.entries {
		if e.AccountID == accountID {
			promoteEntry(e)
		}
	}
	return nil
}

func (f *fakeEntriesRepo) DiscardStagedForAccount(ctx context.Context, accountID string) error {
	for _, e := range f.s.entries {
		if e.AccountID == accountID {
			e.StagedName = nil
			e.StagedData = nil
		}
	}
	return nil
}

func (f *fakeEntriesRepo) Delete(ctx context.Context, id string) error {
	if _, ok := f.s.entries[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.s.entries, id)
	delete(f.s.attachments, id)
	return nil
}

func promoteEntry(e *models.DataEntry) {
	if e.StagedName != nil {
		e.Name = e.StagedName
	}
	if e.StagedData != nil {
		e.Data = e.StagedData
	}
	e.StagedName = nil
	e.StagedData = nil
}

type fakeAttachmentsRepo struct{ s *fakeStore }

func (f *fakeAttachmentsRepo) Create(ctx context.Context, a *models.Attachment) error {
	a.CreatedAt = time.Now()
	f.s.attachments[a.EntryID] = a
	return nil
}

func (f *fakeAttachmentsRepo) GetByEntryID(ctx context.Context, entryID string) (*models.Attachment, error) {
	a, ok := f.s.attachments[entryID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return a, nil
}

func (f *fakeAttachmentsRepo) MarkUploaded(ctx context.Context, entryID string) error {
	a, ok := f.s.attachments[entryID]
	if !ok {
		return common.ErrorNotFound
	}
	a.UploadStatus = models.UploadCompleted
	return nil
}

func (f *fakeAttachmentsRepo) Delete(ctx context.Context, entryID string) error {
	if _, ok := f.s.attachments[entryID]; !ok {
		return common.ErrorNotFound
	}
	delete(f.s.attachments, entryID)
	return nil
}

type fakeRepoManager struct{ s *fakeStore }

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Accounts(dbx.DBTX) accountsrepo.Repository {
	return &fakeAccountsRepo{s: m.s}
}
func (m *fakeRepoManager) Handshakes(dbx.DBTX) handshakesrepo.Repository {
	return &fakeHandshakesRepo{s: m.s}
}
func (m *fakeRepoManager) Sessions(dbx.DBTX) sessionsrepo.Repository {
	return &fakeSessionsRepo{s: m.s}
}
func (m *fakeRepoManager) Entries(dbx.DBTX) entriesrepo.Repository {
	return &fakeEntriesRepo{s: m.s}
}
func (m *fakeRepoManager) Attachments(dbx.DBTX) attachmentsrepo.Repository {
	return &fakeAttachmentsRepo{s: m.s}
}

var _ repomanager.RepositoryManager = (*fakeRepoManager)(nil)

// newTestDB opens an in-memory database that only serves Begin/Commit for
// dbx.WithTx; all state lives in the fake store.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestLogger() logging.Logger {
	return logging.NewSlogDiscardLogger()
}

// addAccount seeds an account directly into the store.
func addAccount(s *fakeStore, usernameHash, salt, verifier []byte) *models.Account {
	a := &models.Account{
		ID:            uuid.New().String(),
		UsernameHash:  usernameHash,
		SRPSalt:       salt,
		SRPVerifier:   verifier,
		MasterKeySalt: []byte("mk-salt"),
		CreatedAt:     time.Now(),
	}
	s.accounts[a.ID] = a
	return a
}

func addSession(s *fakeStore, accountID string, rotation bool, maxRequests *int64, expiresAt *time.Time) *models.Session {
	sess := &models.Session{
		ID:          uuid.New().String(),
		PublicID:    uuid.New().String(),
		AccountID:   accountID,
		SessionKey:  []byte(uuid.New().String()),
		MaxRequests: maxRequests,
		ExpiresAt:   expiresAt,
		Rotation:    rotation,
		LastUsed:    time.Now(),
		CreatedAt:   time.Now(),
	}
	s.sessions[sess.ID] = sess
	return sess
}

func addEntry(s *fakeStore, accountID string, name, data []byte) *models.DataEntry {
	e := &models.DataEntry{
		ID:        uuid.New().String(),
		PublicID:  uuid.New().String(),
		AccountID: accountID,
		Name:      name,
		Data:      data,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.entries[e.ID] = e
	return e
}
