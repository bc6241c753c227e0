package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), testKeyHex)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)

	_, err = EncryptKey(testKeyHex, "")
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	raw, err := LoadKey(KeyConfig{RawPrivateKey: testKeyHex})
	require.NoError(t, err)

	blob, err := EncryptKey(testKeyHex, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "escrow.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	fromFile, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, AddressOf(raw), AddressOf(fromFile))

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
}

func TestWalletSignatureRoundTrip(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	addr := AddressOf(key)

	msg := AuthMessage(addr, 1700000000)
	assert.True(t, strings.HasPrefix(msg, "weathercover:0x"))

	sig, err := SignMessage(key, msg)
	require.NoError(t, err)

	got, err := RecoverAddress(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	other, err := RecoverAddress(AuthMessage(addr, 1700000001), sig)
	require.NoError(t, err)
	assert.NotEqual(t, addr, other, "signature is bound to the message")

	_, err = RecoverAddress(msg, "0xdeadbeef")
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestSharedSecret(t *testing.T) {
	s := NewSharedSecret("oracle-secret")
	assert.True(t, s.Enabled())
	assert.False(t, NewSharedSecret("").Enabled())

	body := []byte(`{"observations":{}}`)
	sig := s.Sign(1700000000, body)

	assert.True(t, s.Verify(1700000000, body, sig))
	assert.False(t, s.Verify(1700000001, body, sig))
	assert.False(t, s.Verify(1700000000, []byte(`{}`), sig))
	assert.False(t, s.Verify(1700000000, body, "not-hex"))
	assert.NotContains(t, s.String(), "oracle-secret")
}

func TestIsAddress(t *testing.T) {
	assert.True(t, IsAddress("0x52908400098527886E0F7030069857D2E4169EE7"))
	assert.False(t, IsAddress("52908400098527886E0F7030069857D2E4169EE7"))
	assert.False(t, IsAddress("0x1234"))
}
