// Package auth implements msqlsrv's optional CredentialChecker extension
// point (SPEC_FULL.md §4.J). The wire protocol's scramble response is a
// one-way hash of the password XORed against SHA1 digests of the server's
// challenge — it cannot be compared against a stored bcrypt hash, only
// against a second copy of the same scramble computed from a known
// plaintext. Since this library is a protocol shim with no knowledge of how
// an application stores its passwords, HtpasswdChecker only verifies that
// the connecting username is present in a configured file; it is not a
// substitute for actually validating the mysql_native_password exchange.
package auth

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// HtpasswdChecker implements msqlsrv.CredentialChecker against a flat file
// of "user:bcrypt-hash" lines, the same format `htpasswd -B` produces.
// Because the scramble response can't be reversed into a plaintext
// password, Check only confirms the username is registered; the bcrypt
// hash is retained so a future out-of-band verification path (e.g. a
// companion plaintext-auth listener) has something to check against.
type HtpasswdChecker struct {
	mu    sync.RWMutex
	users map[string][]byte
}

// LoadHtpasswd reads a "user:bcrypt-hash" file into a new HtpasswdChecker.
// Blank lines and lines starting with '#' are skipped.
func LoadHtpasswd(path string) (*HtpasswdChecker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("auth: opening htpasswd file: %w", err)
	}
	defer f.Close()

	users := make(map[string][]byte)
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		user, hash, ok := strings.Cut(text, ":")
		if !ok {
			return nil, fmt.Errorf("auth: %s:%d: expected \"user:hash\"", path, line)
		}
		users[user] = []byte(hash)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("auth: reading htpasswd file: %w", err)
	}

	return &HtpasswdChecker{users: users}, nil
}

// Check implements msqlsrv.CredentialChecker. It reports ok=false for any
// username not present in the file, regardless of authResponse — see the
// package doc for why the scramble itself cannot be verified here.
func (h *HtpasswdChecker) Check(user string, authResponse, salt []byte) (bool, error) {
	h.mu.RLock()
	_, known := h.users[user]
	h.mu.RUnlock()
	return known, nil
}

// HashPassword bcrypt-hashes a plaintext password for writing into an
// htpasswd-style file; it is exposed for tooling that provisions users,
// not used by Check itself.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hash), nil
}
