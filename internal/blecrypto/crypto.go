// Package blecrypto derives the per-device AES key used to protect Wi-Fi credentials
// written over BLE, and encrypts passwords with it (AES-128-CBC, PKCS7, shared IV).
package blecrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	errw "github.com/pkg/errors"
)

const (
	SecretHexLen = 20
	IVHexLen     = 32
	MACHexLen    = 12

	keyLen = 16
)

var (
	ErrInvalidSecret   = errw.New("shared secret must be 20 hex characters")
	ErrInvalidIV       = errw.New("shared iv must be 32 hex characters")
	ErrInvalidMAC      = errw.New("device mac must be 12 hex characters")
	ErrInvalidPassword = errw.New("password is not valid utf-8")
)

type keySource int

const (
	fromSecret keySource = iota
	fromMAC
)

// keyLayout is the byte weave the device firmware expects. Do not reorder.
var keyLayout = [keyLen]struct {
	src keySource
	idx int
}{
	{fromSecret, 0}, {fromMAC, 0}, {fromSecret, 1}, {fromSecret, 2},
	{fromMAC, 1}, {fromSecret, 3}, {fromSecret, 4}, {fromMAC, 2},
	{fromSecret, 5}, {fromSecret, 6}, {fromMAC, 3}, {fromSecret, 7},
	{fromSecret, 8}, {fromMAC, 4}, {fromSecret, 9}, {fromMAC, 5},
}

// Encryptor holds the shared secret and IV provisioned into device firmware.
type Encryptor struct {
	secret []byte
	iv     []byte
}

// NewEncryptor parses the hex-encoded shared secret and IV.
func NewEncryptor(secretHex, ivHex string) (*Encryptor, error) {
	secret, err := decodeHex(secretHex, SecretHexLen, ErrInvalidSecret)
	if err != nil {
		return nil, err
	}
	iv, err := decodeHex(ivHex, IVHexLen, ErrInvalidIV)
	if err != nil {
		return nil, err
	}
	return &Encryptor{secret: secret, iv: iv}, nil
}

// DeriveKey weaves the 10 secret bytes and 6 MAC bytes into a 16 byte AES key.
// Separators (':' or '-') in macHex are ignored.
func DeriveKey(secret []byte, macHex string) ([]byte, error) {
	if len(secret) != SecretHexLen/2 {
		return nil, ErrInvalidSecret
	}
	mac, err := ParseMAC(macHex)
	if err != nil {
		return nil, err
	}

	key := make([]byte, keyLen)
	for i, l := range keyLayout {
		switch l.src {
		case fromSecret:
			key[i] = secret[l.idx]
		case fromMAC:
			key[i] = mac[l.idx]
		}
	}
	return key, nil
}

// ParseMAC decodes a 12 hex character MAC, with or without separators.
func ParseMAC(macHex string) ([]byte, error) {
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(macHex))
	return decodeHex(clean, MACHexLen, ErrInvalidMAC)
}

// Encrypt encrypts password for the device identified by macHex.
// The output is deterministic for a given (secret, iv, mac, password).
func (e *Encryptor) Encrypt(macHex, password string) ([]byte, error) {
	if !utf8.ValidString(password) {
		return nil, ErrInvalidPassword
	}
	key, err := DeriveKey(e.secret, macHex)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errw.Wrap(err, "creating cipher")
	}

	plaintext := pkcs7Pad([]byte(password), aes.BlockSize)
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, e.iv).CryptBlocks(out, plaintext)
	return out, nil
}

// HexString renders bytes as upper-case hex for logs.
func HexString(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func decodeHex(s string, wantLen int, sentinel error) ([]byte, error) {
	if len(s) != wantLen {
		return nil, sentinel
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errw.Wrap(sentinel, err.Error())
	}
	return b, nil
}
