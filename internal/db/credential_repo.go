package db

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CredentialRepository stores the patron credential pair recorded at
// login so payment registration can re-login later. Passwords are
// AES-GCM encrypted at rest with a key derived from the configured
// secret.
type CredentialRepository struct {
	pool *pgxpool.Pool
	aead cipher.AEAD
}

func NewCredentialRepository(pool *pgxpool.Pool, secret string) (*CredentialRepository, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &CredentialRepository{pool: pool, aead: aead}, nil
}

func (r *CredentialRepository) Upsert(ctx context.Context, userID, source, catUsername, catPassword string) error {
	sealed, err := r.encrypt(catPassword)
	if err != nil {
		return err
	}
	q := `
INSERT INTO patron_credentials (user_id, source, cat_username, cat_password, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (user_id) DO UPDATE
SET source = EXCLUDED.source, cat_username = EXCLUDED.cat_username,
    cat_password = EXCLUDED.cat_password, updated_at = NOW()
`
	_, err = r.pool.Exec(ctx, q, userID, source, catUsername, sealed)
	return err
}

func (r *CredentialRepository) PatronCredentials(ctx context.Context, userID string) (string, string, error) {
	q := `SELECT cat_username, cat_password FROM patron_credentials WHERE user_id = $1`

	var username, sealed string
	err := r.pool.QueryRow(ctx, q, userID).Scan(&username, &sealed)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", fmt.Errorf("no stored credentials for user %s", userID)
	}
	if err != nil {
		return "", "", err
	}

	password, err := r.decrypt(sealed)
	if err != nil {
		return "", "", err
	}
	return username, password, nil
}

func (r *CredentialRepository) encrypt(plain string) (string, error) {
	nonce := make([]byte, r.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := r.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (r *CredentialRepository) decrypt(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	if len(raw) < r.aead.NonceSize() {
		return "", errors.New("sealed credential too short")
	}
	nonce, ciphertext := raw[:r.aead.NonceSize()], raw[r.aead.NonceSize():]
	plain, err := r.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
