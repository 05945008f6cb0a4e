// Package session caches the per-(owner, app) mount context and the
// partial-create failure flag in a durable, encrypted-at-rest blob (spec
// §4.5 partial-failure flag, §5 "shared resource", §6 persistent state
// layout).
//
// Grounded on the teacher's keychain/store.go: the same atomic
// tmp-file-then-rename write pattern and the same AES-GCM-with-AAD
// framing, generalized from "wrap a device signing key" to "wrap the
// cached writer private key and session token". The AES-256 key is
// derived from the passphrase with Argon2id and encrypts the whole blob
// directly; there is no separate random data key.
package session

import (
	"crypto/aes"
	"crypto/cipher"
	crypto_rand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	storeFormatVersion = 1
	tmpSuffix          = ".tmp"
)

// Context is the per-(owner, app) mount context cached across calls
// (spec §3 Mount context).
type Context struct {
	Host                string          `json:"host"`
	Port                int             `json:"port"`
	Scheme              string          `json:"scheme"`
	BlockchainID        string          `json:"blockchain_id"`
	AppName             string          `json:"app_name"`
	DatastoreID         string          `json:"datastore_id"`
	DeviceID            string          `json:"device_id"`
	DeviceWriterKey     string          `json:"device_writer_key,omitempty"` // hex, present iff writer
	Peers               []Peer          `json:"peers"`
	DatastoreDescriptor json.RawMessage `json:"datastore_descriptor,omitempty"`
	Created             bool            `json:"-"` // set on creation mint, not persisted
}

// Peer is one device's published public key for a mounted datastore.
type Peer struct {
	DeviceID  string `json:"device_id"`
	PublicKey string `json:"public_key"`
}

// blobV1 is the on-disk persisted shape (spec §6 persistent state layout).
type blobV1 struct {
	Version               int                `json:"version"`
	CoreSessionToken      string             `json:"coreSessionToken"`
	AppPrivateKey         string             `json:"appPrivateKey"`
	DatastoreContexts     map[string]Context `json:"datastore_contexts"`
	PartialCreateFailures map[string]bool    `json:"partial_create_failures"`
	RootVersions          map[string]int64   `json:"root_versions"`
}

func emptyBlob() blobV1 {
	return blobV1{
		Version:               storeFormatVersion,
		DatastoreContexts:     map[string]Context{},
		PartialCreateFailures: map[string]bool{},
		RootVersions:          map[string]int64{},
	}
}

// Store is the encrypted-at-rest, atomically-written mount cache.
type Store struct {
	path string
	mu   sync.Mutex
	key  []byte // derived AES-256 key, held only while unlocked
	salt []byte
}

// argon2Params mirrors the teacher's tuning (keychain/store.go InitMaster).
var argon2Params = struct {
	Time, Memory uint32
	Threads      uint8
	KeyLen       uint32
}{Time: 3, Memory: 64 * 1024, Threads: 4, KeyLen: 32}

// Open derives the storage key from passphrase and salt and returns a
// Store bound to path. An empty salt is replaced by a fresh random one;
// Save does not write the salt, so a caller reopening an existing cache
// must pass the salt it got from Salt() earlier.
func Open(path string, passphrase []byte, salt []byte) (*Store, error) {
	if len(salt) == 0 {
		salt = randBytes(16)
	}
	key := argon2.IDKey(passphrase, salt, argon2Params.Time, argon2Params.Memory, argon2Params.Threads, argon2Params.KeyLen)
	return &Store{path: path, key: key, salt: salt}, nil
}

// Salt returns the salt this store derived its key from, for persisting
// alongside the ciphertext by the caller (e.g. in a sibling file).
func (s *Store) Salt() []byte { return append([]byte{}, s.salt...) }

// Load reads and decrypts the cached blob, returning an empty blob if the
// file does not yet exist.
func (s *Store) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		b := emptyBlob()
		return &State{blob: b}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", s.path, err)
	}
	if len(raw) < 12 {
		return nil, errors.New("session: corrupt cache file, too short")
	}
	nonce, ciphertext := raw[:12], raw[12:]

	aead, err := newAESGCM(s.key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(aadForPath(s.path)))
	if err != nil {
		return nil, fmt.Errorf("session: decrypt cache: %w", err)
	}
	var b blobV1
	if err := json.Unmarshal(plaintext, &b); err != nil {
		return nil, fmt.Errorf("session: unmarshal cache: %w", err)
	}
	if b.DatastoreContexts == nil {
		b.DatastoreContexts = map[string]Context{}
	}
	if b.PartialCreateFailures == nil {
		b.PartialCreateFailures = map[string]bool{}
	}
	if b.RootVersions == nil {
		b.RootVersions = map[string]int64{}
	}
	return &State{blob: b}, nil
}

// Save encrypts and atomically persists state.
func (s *Store) Save(state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plaintext, err := json.Marshal(state.blob)
	if err != nil {
		return fmt.Errorf("session: marshal cache: %w", err)
	}
	aead, err := newAESGCM(s.key)
	if err != nil {
		return err
	}
	nonce := randBytes(12)
	ciphertext := aead.Seal(nil, nonce, plaintext, []byte(aadForPath(s.path)))

	out := make([]byte, 0, len(nonce)+len(ciphertext))
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return writeBytesAtomic(s.path, out, 0o600)
}

func aadForPath(path string) string { return "gaia-session-cache:" + path }

// State is an in-memory, mutable view of the cached blob returned by Load
// and persisted back via Store.Save.
type State struct {
	blob blobV1
}

func contextKey(owner, app string) string { return owner + "/" + app }

// Context returns the cached mount context for (owner, app), if any.
func (st *State) Context(owner, app string) (Context, bool) {
	c, ok := st.blob.DatastoreContexts[contextKey(owner, app)]
	return c, ok
}

// SetContext caches ctx under (owner, app).
func (st *State) SetContext(owner, app string, ctx Context) {
	st.blob.DatastoreContexts[contextKey(owner, app)] = ctx
}

// Contexts returns every cached mount context, keyed by "owner/app".
func (st *State) Contexts() map[string]Context {
	out := make(map[string]Context, len(st.blob.DatastoreContexts))
	for k, v := range st.blob.DatastoreContexts {
		out[k] = v
	}
	return out
}

// PartialCreateFailed reports whether the partial-create recovery flag is
// set for (blockchainID, appName).
func (st *State) PartialCreateFailed(blockchainID, appName string) bool {
	return st.blob.PartialCreateFailures[contextKey(blockchainID, appName)]
}

// SetPartialCreateFailed sets or clears the partial-create recovery flag
// for (blockchainID, appName). datastoreCreateSetRetry is the external
// handle for forcing this true (spec §4.5).
func (st *State) SetPartialCreateFailed(blockchainID, appName string, failed bool) {
	key := contextKey(blockchainID, appName)
	if failed {
		st.blob.PartialCreateFailures[key] = true
	} else {
		delete(st.blob.PartialCreateFailures, key)
	}
}

func rootVersionKey(datastoreID, rootUUID, deviceID string) string {
	return datastoreID + "/" + rootUUID + "/" + deviceID
}

// RootVersion returns the last-recorded root timestamp for
// (datastoreID, rootUUID, deviceID), the cache spec §4.7 step 2
// consults to decide root ownership (spec §4.6 step 7 writes it).
func (st *State) RootVersion(datastoreID, rootUUID, deviceID string) (int64, bool) {
	v, ok := st.blob.RootVersions[rootVersionKey(datastoreID, rootUUID, deviceID)]
	return v, ok
}

// SetRootVersion records version as the last-known root timestamp for
// (datastoreID, rootUUID, deviceID).
func (st *State) SetRootVersion(datastoreID, rootUUID, deviceID string, version int64) {
	st.blob.RootVersions[rootVersionKey(datastoreID, rootUUID, deviceID)] = version
}

// CoreSessionToken returns the cached session bearer token, if any.
func (st *State) CoreSessionToken() string { return st.blob.CoreSessionToken }

// SetCoreSessionToken updates the cached session bearer token.
func (st *State) SetCoreSessionToken(tok string) { st.blob.CoreSessionToken = tok }

// AppPrivateKey returns the cached writer private key (hex), if any.
func (st *State) AppPrivateKey() string { return st.blob.AppPrivateKey }

// SetAppPrivateKey updates the cached writer private key (hex).
func (st *State) SetAppPrivateKey(hexKey string) { st.blob.AppPrivateKey = hexKey }

func randBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = io.ReadFull(crypto_rand.Reader, b)
	return b
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func writeBytesAtomic(path string, b []byte, perm os.FileMode) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	tmp := path + tmpSuffix
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_SYNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
