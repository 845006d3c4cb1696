// Package credential rotates the application database password when the
// runtime properties ask for it.
package credential

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"

	"standalone/internal/db"
)

// Alphabet excludes characters that are ambiguous or awkward in URLs and
// shells: u f s b $ ( ).
const Alphabet = "acdeghijklmnopqrtvwxyzACDEGHIJKLMNOPQRTVWXYZ0123456789.|~@^&"

// PasswordLength is the length of generated passwords.
const PasswordLength = 12

// Credential is a database account.
type Credential = db.Credential

// ErrRotation wraps every rotation failure.
var ErrRotation = errors.New("credential rotation failed")

// Generate returns a random password over Alphabet.
func Generate() (string, error) {
	max := big.NewInt(int64(len(Alphabet)))
	buf := make([]byte, PasswordLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = Alphabet[n.Int64()]
	}
	return string(buf), nil
}

// Store is the persisted side of the credential.
type Store interface {
	ResetRequested() bool
	Get(key string) string
	CommitPassword(password string)
	ResetCredentials(username, password string)
	Save() (bool, error)
}

// Database is the transient engine used for rotation.
type Database interface {
	Start(ctx context.Context, port int, baseDir, dataDir string) error
	Stop() error
	Admin(ctx context.Context) (db.Executor, error)
}

// Rotator changes the application account password.
type Rotator struct {
	DB          Database
	UsernameKey string
	PasswordKey string
	Generate    func() (string, error)
}

// NewRotator returns a rotator that reads the account from usernameKey and
// passwordKey.
func NewRotator(database Database, usernameKey, passwordKey string) *Rotator {
	return &Rotator{
		DB:          database,
		UsernameKey: usernameKey,
		PasswordKey: passwordKey,
		Generate:    Generate,
	}
}

// RotateIfRequested generates and applies a new password when the store's
// reset flag is set. The database is started for the duration of the call
// and stopped afterwards whatever the outcome. The store is written only
// after the account change succeeded; when the write fails the previous
// password and the reset flag are put back so the next start rotates again.
// It reports whether a rotation happened.
func (r *Rotator) RotateIfRequested(ctx context.Context, store Store, port int, baseDir, dataDir string) (rotated bool, err error) {
	if !store.ResetRequested() {
		return false, nil
	}
	username := store.Get(r.UsernameKey)
	if username == "" {
		return false, fmt.Errorf("%w: no username configured", ErrRotation)
	}

	password, err := r.Generate()
	if err != nil {
		return false, fmt.Errorf("%w: generate password: %v", ErrRotation, err)
	}

	if err := r.DB.Start(ctx, port, baseDir, dataDir); err != nil {
		return false, fmt.Errorf("%w: start database: %w", ErrRotation, err)
	}
	defer func() {
		if stopErr := r.DB.Stop(); stopErr != nil {
			log.Printf("Failed to stop database after rotation: %v", stopErr)
		}
	}()

	ex, err := r.DB.Admin(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrRotation, err)
	}
	defer ex.Close()

	stmts := append(db.AccountStatements(username, password), db.Statement{Query: "FLUSH PRIVILEGES"})
	if err := db.Run(ctx, ex, stmts); err != nil {
		return false, fmt.Errorf("%w: %w", ErrRotation, err)
	}

	previous := store.Get(r.PasswordKey)
	store.CommitPassword(password)
	if _, err := store.Save(); err != nil {
		store.ResetCredentials(username, previous)
		return false, fmt.Errorf("%w: persist password: %w", ErrRotation, err)
	}
	log.Printf("Database password for %s rotated", username)
	return true, nil
}
