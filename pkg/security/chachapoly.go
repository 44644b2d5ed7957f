package security

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// 券商会话token的落盘加密
// 重启后引擎要恢复会话，token不能明文写磁盘

type TokenSealer struct {
	privateKey, // 本端私钥
	publicKey, // 对端公钥
	salt, // 加盐，保持加密和解密时是确定的
	_symmetricKey []byte // 衍生出的对称密钥
	aead cipher.AEAD
}

func NewTokenSealer(privateKey, publicKey, salt []byte) (*TokenSealer, error) {
	if len(privateKey) == 0 || len(publicKey) == 0 {
		return nil, errors.New("key is not empty")
	}
	s := &TokenSealer{
		privateKey: privateKey,
		publicKey:  publicKey,
		salt:       salt,
	}
	key, err := s.symmetricKey()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	s.aead = aead
	return s, nil
}

// 密钥衍生：共享密钥+盐通过HKDF转换为实际加解密用的对称密钥
func (s *TokenSealer) deriveKey(sharedSecret, salt []byte) ([]byte, error) {
	hkdfSha512 := hkdf.New(sha512.New, sharedSecret, salt, nil)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdfSha512, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (s *TokenSealer) symmetricKey() ([]byte, error) {
	if s._symmetricKey != nil {
		return s._symmetricKey, nil
	}
	shared, err := curve25519.X25519(s.privateKey, s.publicKey)
	if err != nil {
		return nil, err
	}
	key, err := s.deriveKey(shared, s.salt)
	if err != nil {
		return nil, err
	}
	s._symmetricKey = key
	return key, nil
}

// Seal 加密token，nonce拼在密文前
func (s *TokenSealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open 解密token
func (s *TokenSealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < s.aead.NonceSize() {
		return nil, errors.New("sealed token too short")
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	return s.aead.Open(nil, nonce, ciphertext, nil)
}

// SealToFile 加密后写入文件
func (s *TokenSealer) SealToFile(path string, token []byte) error {
	sealed, err := s.Seal(token)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, sealed, 0o600)
}

// OpenFromFile 从文件读取并解密
func (s *TokenSealer) OpenFromFile(path string) ([]byte, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return s.Open(sealed)
}

// GenCurve25519Key 生成32字节私钥和对应公钥
func GenCurve25519Key() (privateKey, publicKey []byte, err error) {
	privateKey = make([]byte, 32)
	_, err = rand.Read(privateKey)
	if err != nil {
		return
	}
	publicKey, err = curve25519.X25519(privateKey, curve25519.Basepoint)
	return
}
