package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkovalev/vaultcore/internal/common"
	"github.com/dkovalev/vaultcore/internal/srp"
)

type rotationEnv struct {
	store      *fakeStore
	handshakes *HandshakeService
	rotation   *RotationService
	data       *DataService
}

func newRotationEnv(t *testing.T) *rotationEnv {
	t.Helper()
	store := newFakeStore()
	rm := &fakeRepoManager{s: store}
	db := newTestDB(t)
	log := newTestLogger()
	return &rotationEnv{
		store:      store,
		handshakes: NewHandshakeService(db, rm, testGroup, log),
		rotation:   NewRotationService(db, rm, testGroup, log),
		data:       NewDataService(db, rm, log),
	}
}

// startRotation authenticates with the current credentials over a rotation
// handshake and returns the public id of the minted rotation session.
func startRotation(t *testing.T, env *rotationEnv, acc *account) string {
	t.Helper()
	sessionPublicID, _, err := completeHandshake(t, env.handshakes, acc, true, 0, 0)
	require.NoError(t, err)
	return sessionPublicID
}

// proveNewSecret runs the client side of the verification exchange opened by
// StageCredentials.
func proveNewSecret(t *testing.T, salt, secret, serverPublic []byte) (clientPublic, clientProof []byte) {
	t.Helper()
	clientPublic, clientPrivate, err := srp.ClientEphemeral(testGroup)
	require.NoError(t, err)
	_, proof, err := srp.ClientKeyAndProof(testGroup, salt, secret, clientPublic, clientPrivate, serverPublic)
	require.NoError(t, err)
	return clientPublic, proof
}

func TestRotation_CommitCutover(t *testing.T) {
	env := newRotationEnv(t)
	acc := enroll(t, env.store, []byte("alice_hash"), []byte("old_salt"), []byte("old_password"))

	// sessions minted under the old credentials
	oldSession := addSession(env.store, acc.id, false, nil, nil)

	keepSessionID := startRotation(t, env, acc)
	assert.True(t, env.store.accounts[acc.id].RotationInProgress)

	newSalt := []byte("new_salt")
	newSecret := []byte("new_password")
	newVerifier := srp.ComputeVerifier(testGroup, newSalt, newSecret)

	handshakeID, serverPublic, err := env.rotation.StageCredentials(
		context.Background(), acc.id, newSalt, newVerifier, []byte("new_mk_salt"), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, newVerifier, env.store.accounts[acc.id].StagedSRPVerifier)

	clientPublic, clientProof := proveNewSecret(t, newSalt, newSecret, serverPublic)
	serverProof, err := env.rotation.Complete(
		context.Background(), acc.id, handshakeID, clientPublic, clientProof, keepSessionID)
	require.NoError(t, err)
	assert.NotEmpty(t, serverProof)

	a := env.store.accounts[acc.id]
	assert.False(t, a.RotationInProgress)
	assert.Equal(t, newSalt, a.SRPSalt)
	assert.Equal(t, newVerifier, a.SRPVerifier)
	assert.Equal(t, []byte("new_mk_salt"), a.MasterKeySalt)
	assert.Nil(t, a.StagedSRPVerifier)
	assert.Nil(t, a.StagedSRPSalt)
	assert.Nil(t, a.StagedMasterKeySalt)

	// nothing from the old credential era survives but the carrier session
	assert.Empty(t, env.store.handshakes)
	require.Len(t, env.store.sessions, 1)
	assert.NotContains(t, env.store.sessions, oldSession.ID)
	for _, sess := range env.store.sessions {
		assert.Equal(t, keepSessionID, sess.PublicID)
		assert.False(t, sess.Rotation)
	}

	// the account is usable again
	_, err = env.data.Create(context.Background(), acc.id, []byte("n"), []byte("d"))
	assert.NoError(t, err)

	// logging in with the new password works end to end
	accNew := &account{id: acc.id, usernameHash: acc.usernameHash, salt: newSalt, secret: newSecret}
	_, _, err = completeHandshake(t, env.handshakes, accNew, false, 0, 0)
	assert.NoError(t, err)
}

func TestRotation_CommitPromotesStagedEntries(t *testing.T) {
	env := newRotationEnv(t)
	acc := enroll(t, env.store, []byte("alice_hash"), []byte("old_salt"), []byte("old_password"))
	entry := addEntry(env.store, acc.id, []byte("name-old-key"), []byte("data-old-key"))

	keepSessionID := startRotation(t, env, acc)

	newSalt := []byte("new_salt")
	newSecret := []byte("new_password")
	newVerifier := srp.ComputeVerifier(testGroup, newSalt, newSecret)
	handshakeID, serverPublic, err := env.rotation.StageCredentials(
		context.Background(), acc.id, newSalt, newVerifier, []byte("mk"), 5*time.Minute)
	require.NoError(t, err)

	// re-encrypted copy staged while the lock is held
	require.NoError(t, env.data.StageEdit(
		context.Background(), acc.id, entry.PublicID, []byte("name-new-key"), []byte("data-new-key")))

	clientPublic, clientProof := proveNewSecret(t, newSalt, newSecret, serverPublic)
	_, err = env.rotation.Complete(context.Background(), acc.id, handshakeID, clientPublic, clientProof, keepSessionID)
	require.NoError(t, err)

	e := env.store.entries[entry.ID]
	assert.Equal(t, []byte("name-new-key"), e.Name)
	assert.Equal(t, []byte("data-new-key"), e.Data)
	assert.Nil(t, e.StagedName)
	assert.Nil(t, e.StagedData)
}

func TestRotation_StageRequiresRotatingAccount(t *testing.T) {
	env := newRotationEnv(t)
	acc := enroll(t, env.store, []byte("alice_hash"), []byte("salt"), []byte("password"))

	_, _, err := env.rotation.StageCredentials(
		context.Background(), acc.id, []byte("s"), []byte("v"), []byte("m"), 5*time.Minute)
	assert.ErrorIs(t, err, common.ErrorRotationMismatch)
	assert.Nil(t, env.store.accounts[acc.id].StagedSRPVerifier)
}

func TestRotation_CompleteWithoutStagedCredentials(t *testing.T) {
	env := newRotationEnv(t)
	acc := enroll(t, env.store, []byte("alice_hash"), []byte("salt"), []byte("password"))
	keepSessionID := startRotation(t, env, acc)

	_, err := env.rotation.Complete(context.Background(), acc.id, "no-such-handshake", []byte("A"), []byte("M1"), keepSessionID)
	assert.ErrorIs(t, err, common.ErrorRotationMismatch)
}

func TestRotation_CompleteRefusesForeignKeepSession(t *testing.T) {
	env := newRotationEnv(t)
	acc := enroll(t, env.store, []byte("alice_hash"), []byte("old_salt"), []byte("old_password"))
	other := enroll(t, env.store, []byte("bob_hash"), []byte("bob_salt"), []byte("bob_password"))

	// the other account is mid-rotation with a carrier session of its own
	env.store.accounts[other.id].RotationInProgress = true
	otherSession := addSession(env.store, other.id, true, nil, nil)

	keepSessionID := startRotation(t, env, acc)

	newSalt := []byte("new_salt")
	newSecret := []byte("new_password")
	newVerifier := srp.ComputeVerifier(testGroup, newSalt, newSecret)
	handshakeID, serverPublic, err := env.rotation.StageCredentials(
		context.Background(), acc.id, newSalt, newVerifier, []byte("mk"), 5*time.Minute)
	require.NoError(t, err)

	// a valid proof with someone else's session as the keep handle
	clientPublic, clientProof := proveNewSecret(t, newSalt, newSecret, serverPublic)
	_, err = env.rotation.Complete(context.Background(), acc.id, handshakeID, clientPublic, clientProof, otherSession.PublicID)
	assert.ErrorIs(t, err, common.ErrorRotationMismatch)

	// the foreign session keeps carrying its own rotation
	assert.True(t, env.store.sessions[otherSession.ID].Rotation)
	// both accounts are still mid-rotation and the carrier survives
	assert.True(t, env.store.accounts[acc.id].RotationInProgress)
	assert.True(t, env.store.accounts[other.id].RotationInProgress)
	found := false
	for _, sess := range env.store.sessions {
		if sess.PublicID == keepSessionID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRotation_CompleteRequiresRotationCarrierSession(t *testing.T) {
	env := newRotationEnv(t)
	acc := enroll(t, env.store, []byte("alice_hash"), []byte("old_salt"), []byte("old_password"))
	ordinary := addSession(env.store, acc.id, false, nil, nil)

	startRotation(t, env, acc)

	newSalt := []byte("new_salt")
	newSecret := []byte("new_password")
	newVerifier := srp.ComputeVerifier(testGroup, newSalt, newSecret)
	handshakeID, serverPublic, err := env.rotation.StageCredentials(
		context.Background(), acc.id, newSalt, newVerifier, []byte("mk"), 5*time.Minute)
	require.NoError(t, err)

	clientPublic, clientProof := proveNewSecret(t, newSalt, newSecret, serverPublic)
	_, err = env.rotation.Complete(context.Background(), acc.id, handshakeID, clientPublic, clientProof, ordinary.PublicID)
	assert.ErrorIs(t, err, common.ErrorRotationMismatch)
	assert.True(t, env.store.accounts[acc.id].RotationInProgress)
}

func TestRotation_CompleteBadProofLeavesStateIntact(t *testing.T) {
	env := newRotationEnv(t)
	acc := enroll(t, env.store, []byte("alice_hash"), []byte("old_salt"), []byte("old_password"))
	oldVerifier := env.store.accounts[acc.id].SRPVerifier

	keepSessionID := startRotation(t, env, acc)

	newSalt := []byte("new_salt")
	newVerifier := srp.ComputeVerifier(testGroup, newSalt, []byte("new_password"))
	handshakeID, serverPublic, err := env.rotation.StageCredentials(
		context.Background(), acc.id, newSalt, newVerifier, []byte("mk"), 5*time.Minute)
	require.NoError(t, err)

	// proof computed from the wrong password
	clientPublic, clientProof := proveNewSecret(t, newSalt, []byte("not_the_new_password"), serverPublic)
	_, err = env.rotation.Complete(context.Background(), acc.id, handshakeID, clientPublic, clientProof, keepSessionID)
	assert.ErrorIs(t, err, common.ErrorProofMismatch)

	a := env.store.accounts[acc.id]
	assert.True(t, a.RotationInProgress)
	assert.Equal(t, oldVerifier, a.SRPVerifier)
	assert.Equal(t, newVerifier, a.StagedSRPVerifier)
}

func TestRotation_Abort(t *testing.T) {
	env := newRotationEnv(t)
	acc := enroll(t, env.store, []byte("alice_hash"), []byte("old_salt"), []byte("old_password"))
	oldVerifier := env.store.accounts[acc.id].SRPVerifier
	entry := addEntry(env.store, acc.id, []byte("name"), []byte("data"))
	entry.StagedData = []byte("staged-data")

	startRotation(t, env, acc)
	_, _, err := env.rotation.StageCredentials(
		context.Background(), acc.id, []byte("s"), []byte("v"), []byte("m"), 5*time.Minute)
	require.NoError(t, err)

	require.NoError(t, env.rotation.Abort(context.Background(), acc.id))

	a := env.store.accounts[acc.id]
	assert.False(t, a.RotationInProgress)
	assert.Nil(t, a.StagedSRPVerifier)
	assert.Equal(t, oldVerifier, a.SRPVerifier)
	assert.Empty(t, env.store.handshakes)
	assert.Empty(t, env.store.sessions)

	e := env.store.entries[entry.ID]
	assert.Equal(t, []byte("data"), e.Data)
	assert.Nil(t, e.StagedData)
}

func TestRotation_AbortRequiresRotatingAccount(t *testing.T) {
	env := newRotationEnv(t)
	acc := enroll(t, env.store, []byte("alice_hash"), []byte("salt"), []byte("password"))

	err := env.rotation.Abort(context.Background(), acc.id)
	assert.ErrorIs(t, err, common.ErrorRotationMismatch)
}

func TestRotation_CleanPasswordChange(t *testing.T) {
	env := newRotationEnv(t)
	acc := enroll(t, env.store, []byte("alice_hash"), []byte("salt"), []byte("password"))
	a := env.store.accounts[acc.id]
	a.RotationInProgress = true
	a.StagedSRPVerifier = []byte("staged")
	addSession(env.store, acc.id, true, nil, nil)
	addSession(env.store, acc.id, false, nil, nil)

	require.NoError(t, env.rotation.CleanPasswordChange(context.Background(), acc.id))

	assert.False(t, a.RotationInProgress)
	assert.Nil(t, a.StagedSRPVerifier)
	assert.Empty(t, env.store.sessions)
	assert.Empty(t, env.store.handshakes)
}

// Rotation lock universality: every ordinary mutator refuses a rotating
// account and leaves no trace.
func TestRotation_LockUniversality(t *testing.T) {
	env := newRotationEnv(t)
	store := env.store
	rm := &fakeRepoManager{s: store}
	db := newTestDB(t)
	log := newTestLogger()
	accountsSvc := NewAccountService(db, rm, log)

	acc := enroll(t, env.store, []byte("alice_hash"), []byte("salt"), []byte("password"))
	entry := addEntry(store, acc.id, []byte("name"), []byte("data"))
	store.accounts[acc.id].RotationInProgress = true

	ctx := context.Background()
	tests := []struct {
		name string
		call func() error
	}{
		{"data create", func() error {
			_, err := env.data.Create(ctx, acc.id, []byte("n"), []byte("d"))
			return err
		}},
		{"data edit", func() error {
			return env.data.Edit(ctx, acc.id, entry.PublicID, nil, []byte("d2"))
		}},
		{"data delete", func() error {
			return env.data.Delete(ctx, acc.id, entry.PublicID)
		}},
		{"data get entry", func() error {
			_, err := env.data.GetEntry(ctx, acc.id, entry.PublicID, false)
			return err
		}},
		{"data get list", func() error {
			_, err := env.data.GetList(ctx, acc.id)
			return err
		}},
		{"username change", func() error {
			return accountsSvc.ChangeUsernameHash(ctx, acc.id, []byte("new_hash"))
		}},
		{"account delete", func() error {
			return accountsSvc.Delete(ctx, acc.id)
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.call(), common.ErrorRotationInProgress)
		})
	}

	// nothing moved
	assert.Contains(t, store.accounts, acc.id)
	assert.Equal(t, []byte("alice_hash"), store.accounts[acc.id].UsernameHash)
	require.Len(t, store.entries, 1)
	assert.Equal(t, []byte("data"), store.entries[entry.ID].Data)
}
