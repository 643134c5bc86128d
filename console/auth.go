package console

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gliderlabs/ssh"
	"github.com/zond/scriptai"
	"golang.org/x/crypto/argon2"

	cache "github.com/go-pkgz/expirable-cache/v3"
)

// Argon2id parameters (OWASP recommended)
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

const (
	// A user that failed to log in can't try again until this has passed.
	loginAttemptInterval = 10 * time.Second
	maxTrackedLogins     = 4096
)

// HashPassword returns an Argon2id hash of password in PHC string format,
// suitable for the console password list.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", scriptai.WithStack(err)
	}
	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false
	}
	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	hash := argon2.IDKey([]byte(password), salt, iterations, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(hash, expected) == 1
}

// authenticator checks console logins against a fixed list of users.
type authenticator struct {
	users  map[string]string
	failed cache.Cache[string, time.Time]
}

func newAuthenticator(users map[string]string) *authenticator {
	return &authenticator{
		users:  users,
		failed: cache.NewCache[string, time.Time]().WithMaxKeys(maxTrackedLogins).WithTTL(loginAttemptInterval),
	}
}

func (a *authenticator) check(user, password string) bool {
	if last, found := a.failed.Get(user); found {
		log.Printf("refusing console login for %q, last failure at %v", user, last.Format(time.RFC3339))
		return false
	}
	hash, found := a.users[user]
	if found && verifyPassword(password, hash) {
		return true
	}
	a.failed.Set(user, time.Now(), 0)
	log.Printf("failed console login for %q", user)
	return false
}

func (a *authenticator) passwordHandler(ctx ssh.Context, password string) bool {
	return a.check(ctx.User(), password)
}
