package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/supermarket-backend/pkg/config"
)

var cheap = config.PasswordConfig{ArgonMemoryKB: 64, ArgonTime: 1, ArgonParallelism: 1, ArgonSaltLen: 16, ArgonKeyLen: 32}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("very-secure-password", cheap)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=64,t=1,p=1$"), hash)

	ok, err := VerifyPassword("very-secure-password", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyPassword("bogus-password", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashesAreSalted(t *testing.T) {
	a, err := HashPassword("same-password", cheap)
	require.NoError(t, err)
	b, err := HashPassword("same-password", cheap)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestHashPasswordClampsConfig(t *testing.T) {
	hash, err := HashPassword("secret1", config.PasswordConfig{ArgonParallelism: 1000})
	require.NoError(t, err)

	h, err := parseHash(hash)
	require.NoError(t, err)
	require.Equal(t, uint32(8), h.memory)
	require.Equal(t, uint32(1), h.time)
	require.Equal(t, uint8(255), h.threads)
	require.Len(t, h.salt, 8)
	require.Len(t, h.key, 16)

	_, err = HashPassword("", cheap)
	require.Error(t, err)
}

func TestVerifyPasswordRejectsMalformedHashes(t *testing.T) {
	valid, err := HashPassword("secret1", cheap)
	require.NoError(t, err)
	parts := strings.Split(valid, "$")

	cases := map[string]string{
		"not a hash":    "not-a-hash",
		"other algo":    strings.Replace(valid, "argon2id", "argon2i", 1),
		"old version":   strings.Replace(valid, "v=19", "v=16", 1),
		"zero cost":     strings.Replace(valid, "t=1", "t=0", 1),
		"garbled cost":  strings.Replace(valid, "m=64", "m=x", 1),
		"bad salt":      strings.Join([]string{"", parts[1], parts[2], parts[3], "!!", parts[5]}, "$"),
		"empty key":     strings.Join([]string{"", parts[1], parts[2], parts[3], parts[4], ""}, "$"),
		"trailing part": valid + "$extra",
	}
	for name, encoded := range cases {
		_, err := VerifyPassword("secret1", encoded)
		require.ErrorIs(t, err, ErrInvalidHash, name)
	}
}

func TestCheckPasswordPolicy(t *testing.T) {
	require.ErrorIs(t, CheckPasswordPolicy("12345"), ErrPasswordTooShort)
	require.NoError(t, CheckPasswordPolicy("123456"))
	// Six characters, twelve bytes.
	require.NoError(t, CheckPasswordPolicy("ñññññ1"))
	require.ErrorIs(t, CheckPasswordPolicy("ñññññ"), ErrPasswordTooShort)
}
