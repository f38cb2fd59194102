package secrets

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for pairing codes and operator tokens. Both are
// low-entropy or low-frequency secrets, so a memory-hard hash is warranted.
const (
	argonMemory      = 64 * 1024
	argonIterations  = 3
	argonParallelism = 4
	argonSaltLen     = 16
	argonKeyLen      = 32
)

// HashSecret returns a PHC argon2id string:
// $argon2id$v=19$m=65536,t=3,p=4$<salt_b64>$<hash_b64>
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secret is required")
	}
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	h := argon2.IDKey([]byte(secret), salt, argonIterations, argonMemory, argonParallelism, argonKeyLen)
	enc := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonIterations, argonParallelism,
		enc.EncodeToString(salt), enc.EncodeToString(h),
	), nil
}

// VerifySecret checks a candidate against a PHC-encoded argon2id hash.
func VerifySecret(secret, encoded string) bool {
	if secret == "" || encoded == "" {
		return false
	}
	mem, iter, par, salt, want, err := parsePHC(encoded)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(secret), salt, iter, mem, par, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func parsePHC(s string) (mem uint32, iter uint32, par uint8, salt, hash []byte, err error) {
	// leading "$" makes the first segment empty
	parts := strings.Split(s, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, errors.New("invalid secret hash format")
	}
	parts = parts[1:]
	ver, err := strconv.Atoi(strings.TrimPrefix(parts[1], "v="))
	if err != nil || ver != argon2.Version {
		return 0, 0, 0, nil, nil, errors.New("unsupported argon2 version")
	}
	for _, kv := range strings.Split(parts[2], ",") {
		pair := strings.SplitN(kv, "=", 2)
		if len(pair) != 2 {
			return 0, 0, 0, nil, nil, errors.New("invalid argon2 parameters")
		}
		v, perr := strconv.ParseUint(pair[1], 10, 32)
		if perr != nil {
			return 0, 0, 0, nil, nil, errors.New("invalid argon2 parameters")
		}
		switch pair[0] {
		case "m":
			mem = uint32(v)
		case "t":
			iter = uint32(v)
		case "p":
			par = uint8(v)
		}
	}
	if mem == 0 || iter == 0 || par == 0 {
		return 0, 0, 0, nil, nil, errors.New("invalid argon2 parameters")
	}
	enc := base64.RawStdEncoding
	if salt, err = enc.DecodeString(parts[3]); err != nil {
		return 0, 0, 0, nil, nil, err
	}
	if hash, err = enc.DecodeString(parts[4]); err != nil {
		return 0, 0, 0, nil, nil, err
	}
	return mem, iter, par, salt, hash, nil
}
