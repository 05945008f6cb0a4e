// Package keystore persists this device's secp256k1 signing key at
// rest, encrypted under a passphrase-derived key. It generalizes the
// teacher's keychain.FileStore master-password/KEK scheme (argon2id
// KEK derivation, AES-GCM wrap, atomic tmp-file+rename writes) from a
// multi-key BLS keyring down to the single secp256k1 device identity
// this protocol needs (spec.md §3 "device" / §4.1).
package keystore

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
	"time"

	"github.com/gaia-protocol/gaia-go/gaiacrypto"
	"golang.org/x/crypto/argon2"
)

const (
	masterFileName = "master.json"
	keyFileName    = "device.key"
	tmpSuffix      = ".tmp"
)

var ErrAlreadyInitialized = errors.New("keystore: already initialized")

// argon2Params mirrors the teacher's keychain.FileStore tuning.
var argon2Params = struct {
	Time, Memory uint32
	Threads      uint8
	KeyLen       uint32
}{Time: 3, Memory: 64 * 1024, Threads: 4, KeyLen: 32}

type masterFile struct {
	Version int       `json:"version"`
	Salt    []byte    `json:"salt"`
	Created time.Time `json:"created"`
}

// Store manages one device key under base, a directory it creates on
// first use.
type Store struct {
	base string
}

func New(base string) *Store {
	return &Store{base: base}
}

func (s *Store) masterPath() string { return filepath.Join(s.base, masterFileName) }
func (s *Store) keyPath() string    { return filepath.Join(s.base, keyFileName) }

// Initialized reports whether this store already holds a key.
func (s *Store) Initialized() bool {
	_, err := os.Stat(s.masterPath())
	return err == nil
}

// LoadOrCreate returns the stored device key, decrypting it with
// passphrase, generating and persisting a fresh key on first use.
func (s *Store) LoadOrCreate(passphrase []byte) (*gaiacrypto.PrivateKey, error) {
	if !s.Initialized() {
		return s.create(passphrase)
	}
	return s.load(passphrase)
}

func (s *Store) create(passphrase []byte) (*gaiacrypto.PrivateKey, error) {
	if err := os.MkdirAll(s.base, 0o700); err != nil {
		return nil, fmt.Errorf("keystore: create dir: %w", err)
	}
	if s.Initialized() {
		return nil, ErrAlreadyInitialized
	}

	salt := randBytes(16)
	mf := masterFile{Version: 1, Salt: salt, Created: time.Now().UTC()}
	if err := writeJSONAtomic(s.masterPath(), mf, 0o600); err != nil {
		return nil, fmt.Errorf("keystore: write master file: %w", err)
	}

	priv, err := gaiacrypto.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("keystore: generate key: %w", err)
	}
	if err := s.encryptAndStore(passphrase, salt, priv); err != nil {
		return nil, err
	}
	return priv, nil
}

func (s *Store) load(passphrase []byte) (*gaiacrypto.PrivateKey, error) {
	var mf masterFile
	if err := readJSON(s.masterPath(), &mf); err != nil {
		return nil, fmt.Errorf("keystore: read master file: %w", err)
	}

	kek := deriveKEK(passphrase, mf.Salt)
	gcm, err := newAESGCM(kek)
	if err != nil {
		return nil, err
	}

	blob, err := os.ReadFile(s.keyPath())
	if err != nil {
		return nil, fmt.Errorf("keystore: read key file: %w", err)
	}
	if len(blob) < gcm.NonceSize() {
		return nil, errors.New("keystore: key file truncated")
	}
	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	raw, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("keystore: decrypt key (wrong passphrase?): %w", err)
	}
	return gaiacrypto.DecodePrivateKeyBytes(raw)
}

func (s *Store) encryptAndStore(passphrase, salt []byte, priv *gaiacrypto.PrivateKey) error {
	kek := deriveKEK(passphrase, salt)
	gcm, err := newAESGCM(kek)
	if err != nil {
		return err
	}
	nonce := randBytes(gcm.NonceSize())
	ciphertext := gcm.Seal(nil, nonce, priv.Bytes(), nil)
	return writeBytesAtomic(s.keyPath(), append(nonce, ciphertext...), 0o600)
}

func deriveKEK(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argon2Params.Time, argon2Params.Memory, argon2Params.Threads, argon2Params.KeyLen)
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func randBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = io.ReadFull(crypto_rand.Reader, b)
	return b
}

func readJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}

func writeJSONAtomic(path string, v any, perm os.FileMode) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeBytesAtomic(path, b, perm)
}

func writeBytesAtomic(path string, b []byte, perm os.FileMode) error {
	tmp := path + tmpSuffix
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_SYNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	f.Close()
	return os.Rename(tmp, path)
}
