package blecrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"testing"

	"go.viam.com/test"
)

const (
	testSecret = "00112233445566778899"
	testIV     = "000102030405060708090a0b0c0d0e0f"
	testMAC    = "AABBCCDDEEFF"
)

func TestDeriveKeyLayout(t *testing.T) {
	secret, err := hex.DecodeString(testSecret)
	test.That(t, err, test.ShouldBeNil)

	key, err := DeriveKey(secret, testMAC)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, hex.EncodeToString(key), test.ShouldEqual, "00aa1122bb3344cc5566dd7788ee99ff")

	// separators and case don't change the key
	key2, err := DeriveKey(secret, "aa:bb:cc:dd:ee:ff")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, key2, test.ShouldResemble, key)
}

func TestDeriveKeyErrors(t *testing.T) {
	secret, _ := hex.DecodeString(testSecret)

	_, err := DeriveKey(secret[:9], testMAC)
	test.That(t, errors.Is(err, ErrInvalidSecret), test.ShouldBeTrue)

	_, err = DeriveKey(secret, "AABBCCDDEE")
	test.That(t, errors.Is(err, ErrInvalidMAC), test.ShouldBeTrue)

	_, err = DeriveKey(secret, "AABBCCDDEEZZ")
	test.That(t, errors.Is(err, ErrInvalidMAC), test.ShouldBeTrue)
}

func TestNewEncryptorErrors(t *testing.T) {
	_, err := NewEncryptor("0011", testIV)
	test.That(t, errors.Is(err, ErrInvalidSecret), test.ShouldBeTrue)

	_, err = NewEncryptor("zz112233445566778899", testIV)
	test.That(t, errors.Is(err, ErrInvalidSecret), test.ShouldBeTrue)

	_, err = NewEncryptor(testSecret, "0001")
	test.That(t, errors.Is(err, ErrInvalidIV), test.ShouldBeTrue)
}

func TestEncryptDeterministic(t *testing.T) {
	enc, err := NewEncryptor(testSecret, testIV)
	test.That(t, err, test.ShouldBeNil)

	a, err := enc.Encrypt(testMAC, "pw1")
	test.That(t, err, test.ShouldBeNil)
	b, err := enc.Encrypt(testMAC, "pw1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a, test.ShouldResemble, b)
	test.That(t, len(a), test.ShouldEqual, aes.BlockSize)

	// a different device gets a different ciphertext
	c, err := enc.Encrypt("112233445566", "pw1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bytes.Equal(a, c), test.ShouldBeFalse)
}

func TestEncryptRoundTrip(t *testing.T) {
	enc, err := NewEncryptor(testSecret, testIV)
	test.That(t, err, test.ShouldBeNil)

	for _, pw := range []string{"", "pw1", "exactly16bytes!!", "a much longer wifi passphrase with spaces", "pässwörd"} {
		out, err := enc.Encrypt(testMAC, pw)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(out)%aes.BlockSize, test.ShouldEqual, 0)
		test.That(t, len(out), test.ShouldBeGreaterThan, len(pw))

		secret, _ := hex.DecodeString(testSecret)
		iv, _ := hex.DecodeString(testIV)
		key, err := DeriveKey(secret, testMAC)
		test.That(t, err, test.ShouldBeNil)
		block, err := aes.NewCipher(key)
		test.That(t, err, test.ShouldBeNil)

		plain := make([]byte, len(out))
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, out)
		pad := int(plain[len(plain)-1])
		test.That(t, pad, test.ShouldBeBetweenOrEqual, 1, aes.BlockSize)
		test.That(t, string(plain[:len(plain)-pad]), test.ShouldEqual, pw)
	}
}

func TestEncryptRejectsBadInput(t *testing.T) {
	enc, err := NewEncryptor(testSecret, testIV)
	test.That(t, err, test.ShouldBeNil)

	_, err = enc.Encrypt(testMAC, string([]byte{0xff, 0xfe}))
	test.That(t, errors.Is(err, ErrInvalidPassword), test.ShouldBeTrue)

	_, err = enc.Encrypt("", "pw1")
	test.That(t, errors.Is(err, ErrInvalidMAC), test.ShouldBeTrue)
}

func TestHexString(t *testing.T) {
	test.That(t, HexString([]byte{0x0a, 0xbc}), test.ShouldEqual, "0ABC")
}
