// Package crypt implements the triple-DES codec used by the upstream IPTV
// handshake: ECB mode, PKCS#7 padding, upper-case hex wire format, keyed by
// an MD5 digest of the account password.
package crypt

import (
	"crypto/cipher"
	"crypto/des"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// CodecError is returned for malformed ciphertext or padding. Decrypt never
// returns partial plaintext alongside an error.
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string { return fmt.Sprintf("crypt %s: %v", e.Op, e.Err) }

func (e *CodecError) Unwrap() error { return e.Err }

// Cipher is a 3DES-ECB codec over a fixed 24-byte key.
type Cipher struct {
	block cipher.Block
}

// New creates a Cipher from 24 bytes of raw key material.
func New(key string) (*Cipher, error) {
	block, err := des.NewTripleDESCipher([]byte(key))
	if err != nil {
		return nil, &CodecError{Op: "key", Err: err}
	}
	return &Cipher{block: block}, nil
}

// NewFromPassword derives the handshake key from an account password:
// the first 24 hex characters of its MD5 digest, upper-cased.
func NewFromPassword(password string) (*Cipher, error) {
	return New(DeriveKey(password))
}

// DeriveKey returns the 24-character key material for a password.
func DeriveKey(password string) string {
	sum := md5.Sum([]byte(password))
	return strings.ToUpper(hex.EncodeToString(sum[:]))[:24]
}

// Encrypt pads plaintext to the block size, encrypts each block in ECB mode,
// and renders the ciphertext as upper-case hex.
func (c *Cipher) Encrypt(plaintext string) string {
	bs := c.block.BlockSize()
	src := pad([]byte(plaintext), bs)
	dst := make([]byte, len(src))
	for i := 0; i < len(src); i += bs {
		c.block.Encrypt(dst[i:i+bs], src[i:i+bs])
	}
	return strings.ToUpper(hex.EncodeToString(dst))
}

// Decrypt reverses Encrypt. Malformed hex, a ciphertext that is not a whole
// number of blocks, or invalid padding yield a CodecError.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	src, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", &CodecError{Op: "decrypt", Err: err}
	}
	bs := c.block.BlockSize()
	if len(src) == 0 || len(src)%bs != 0 {
		return "", &CodecError{Op: "decrypt", Err: fmt.Errorf("ciphertext length %d is not a multiple of %d", len(src), bs)}
	}
	dst := make([]byte, len(src))
	for i := 0; i < len(src); i += bs {
		c.block.Decrypt(dst[i:i+bs], src[i:i+bs])
	}
	out, err := unpad(dst, bs)
	if err != nil {
		return "", &CodecError{Op: "decrypt", Err: err}
	}
	return string(out), nil
}

// pad appends PKCS#7 padding. A full extra block is added when the input is
// already block-aligned.
func pad(b []byte, bs int) []byte {
	n := bs - len(b)%bs
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(b []byte, bs int) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > bs || n > len(b) {
		return nil, fmt.Errorf("invalid padding byte %d", n)
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return b[:len(b)-n], nil
}
