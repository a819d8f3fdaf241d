package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Envelope formats, identified by their 8-byte magic prefix.
const (
	FormatGCM       = "GCM3NCR0"
	FormatCBC       = "3NCR0PTD"
	FormatLegacyGCM = "legacy_gcm"
)

const (
	saltLen    = 16
	nonceLen   = 12
	tagLen     = 16
	kdfRounds  = 100000
	keyLen     = 32
	magicLen   = 8
	cbcHashLen = 32
)

var ErrPasswordRequired = errors.New("object is encrypted; password required")

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, kdfRounds, keyLen, sha256.New)
}

// IsEncrypted reports whether data starts with a known envelope magic.
func IsEncrypted(data []byte) bool {
	if len(data) < magicLen {
		return false
	}
	m := string(data[:magicLen])
	return m == FormatGCM || m == FormatCBC
}

// Encrypt seals data for password in the given format. An empty format means
// GCM.
func Encrypt(data []byte, password, format string) ([]byte, error) {
	switch format {
	case "", FormatGCM:
		return encryptGCM(data, password)
	case FormatCBC:
		return encryptCBC(data, password)
	}
	return nil, fmt.Errorf("unsupported encryption format %q", format)
}

// Decrypt opens data and reports the detected format. Data without a magic
// prefix is tried as the legacy GCM layout.
func Decrypt(data []byte, password string) ([]byte, string, error) {
	if len(data) < magicLen {
		return nil, "", fmt.Errorf("encrypted data too short: %d bytes", len(data))
	}
	switch string(data[:magicLen]) {
	case FormatGCM:
		out, err := decryptGCM(data[magicLen:], password)
		return out, FormatGCM, err
	case FormatCBC:
		out, err := decryptCBC(data[magicLen:], password)
		return out, FormatCBC, err
	}
	out, err := decryptGCM(data, password)
	if err != nil {
		return nil, FormatLegacyGCM, fmt.Errorf("legacy GCM: %w", err)
	}
	return out, FormatLegacyGCM, nil
}

// GCM layout after the magic: salt(16) nonce(12) ciphertext+tag.
func encryptGCM(data []byte, password string) ([]byte, error) {
	salt := make([]byte, saltLen)
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	gcm, err := newGCM(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, magicLen+saltLen+nonceLen+len(data)+tagLen)
	out = append(out, FormatGCM...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

func decryptGCM(body []byte, password string) ([]byte, error) {
	if len(body) < saltLen+nonceLen+tagLen {
		return nil, fmt.Errorf("GCM data too short: %d bytes", len(body))
	}
	salt := body[:saltLen]
	nonce := body[saltLen : saltLen+nonceLen]
	gcm, err := newGCM(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	out, err := gcm.Open(nil, nonce, body[saltLen+nonceLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return out, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// CBC layout after the magic: sha256(rest)(32) len(rest)(8) salt(16) iv(16)
// ciphertext, PKCS7 padded.
func encryptCBC(data []byte, password string) ([]byte, error) {
	salt := make([]byte, saltLen)
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	padded := pkcs7Pad(data, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	rest := make([]byte, 0, saltLen+len(iv)+len(ct))
	rest = append(rest, salt...)
	rest = append(rest, iv...)
	rest = append(rest, ct...)
	sum := sha256.Sum256(rest)

	out := make([]byte, 0, magicLen+cbcHashLen+8+len(rest))
	out = append(out, FormatCBC...)
	out = append(out, sum[:]...)
	out = binary.BigEndian.AppendUint64(out, uint64(len(rest)))
	return append(out, rest...), nil
}

func decryptCBC(body []byte, password string) ([]byte, error) {
	if len(body) < cbcHashLen+8+saltLen+aes.BlockSize {
		return nil, fmt.Errorf("CBC data too short: %d bytes", len(body))
	}
	hash := body[:cbcHashLen]
	n := binary.BigEndian.Uint64(body[cbcHashLen : cbcHashLen+8])
	rest := body[cbcHashLen+8:]
	if uint64(len(rest)) != n {
		return nil, fmt.Errorf("length mismatch: expected %d, got %d", n, len(rest))
	}
	if sum := sha256.Sum256(rest); !bytes.Equal(hash, sum[:]) {
		return nil, errors.New("hash verification failed: data corrupted")
	}
	salt, iv, ct := rest[:saltLen], rest[saltLen:saltLen+aes.BlockSize], rest[saltLen+aes.BlockSize:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext is not a multiple of the block size")
	}
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)
	return pkcs7Unpad(pt, aes.BlockSize)
}

func pkcs7Pad(data []byte, size int) []byte {
	n := size - len(data)%size
	out := make([]byte, len(data), len(data)+n)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, size int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty data")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > size || n > len(data) {
		return nil, fmt.Errorf("invalid padding length %d (wrong password?)", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding (wrong password?)")
		}
	}
	return data[:len(data)-n], nil
}
