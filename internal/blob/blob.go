// Package blob builds the credential payloads a Spotify Connect device
// accepts on addUser: an encrypted username:password blob negotiated over
// Diffie-Hellman, or the plain OAuth access token.
package blob

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/wakehub/wakehub/internal/apperrors"
)

// The 1024-bit MODP group used by the Spotify ZeroConf handshake.
const dhPrimeHex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
	"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
	"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
	"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
	"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
	"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
	"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
	"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
	"15728E5A8AACAA68FFFFFFFFFFFFFFFF"

const (
	keyBytes = 128 // serialized size of DH values (1024 bits)
	ivBytes  = 16
)

var (
	dhPrime     *big.Int
	dhGenerator = big.NewInt(2)
)

func init() {
	p, ok := new(big.Int).SetString(dhPrimeHex, 16)
	if !ok {
		panic("blob: invalid DH prime constant")
	}
	dhPrime = p
}

// EncryptedBlob generates the encrypted addUser credential blob and the
// client's DH public key, both base64-encoded. No live handshake with the
// device occurs here, so the device public value is random placeholder bytes
// of the correct length; devices that require a negotiated secret reject the
// blob and callers fall back to access-token mode.
func EncryptedBlob(username, password, accessToken string) (blobB64, clientKeyB64 string, err error) {
	private, public, err := generateKeypair()
	if err != nil {
		return "", "", apperrors.NewCryptoFailure("generate DH keypair", err)
	}

	devicePublic := make([]byte, keyBytes)
	if _, err := rand.Read(devicePublic); err != nil {
		return "", "", apperrors.NewCryptoFailure("generate device public placeholder", err)
	}

	secret := sharedSecret(private, devicePublic)

	iv := make([]byte, ivBytes)
	if _, err := rand.Read(iv); err != nil {
		return "", "", apperrors.NewCryptoFailure("generate iv", err)
	}

	blob, err := encryptBlob(secret, username, password, iv)
	if err != nil {
		return "", "", apperrors.NewCryptoFailure("encrypt credentials", err)
	}

	return base64.StdEncoding.EncodeToString(blob),
		base64.StdEncoding.EncodeToString(public),
		nil
}

// SimpleBlob returns the fallback blob: the OAuth access token when present,
// otherwise plain username:password.
func SimpleBlob(username, password, accessToken string) string {
	if accessToken != "" {
		return accessToken
	}
	return username + ":" + password
}

// generateKeypair produces an ephemeral DH private value in [2, p-2] and the
// matching public value g^x mod p serialized as 128 big-endian bytes.
func generateKeypair() (*big.Int, []byte, error) {
	max := new(big.Int).Sub(dhPrime, big.NewInt(3))
	x, err := rand.Int(rand.Reader, max)
	if err != nil {
		return nil, nil, err
	}
	x.Add(x, big.NewInt(2))

	y := new(big.Int).Exp(dhGenerator, x, dhPrime)
	public := make([]byte, keyBytes)
	y.FillBytes(public)
	return x, public, nil
}

// sharedSecret computes devicePublic^private mod p as 128 big-endian bytes.
func sharedSecret(private *big.Int, devicePublic []byte) []byte {
	deviceY := new(big.Int).SetBytes(devicePublic)
	s := new(big.Int).Exp(deviceY, private, dhPrime)
	out := make([]byte, keyBytes)
	s.FillBytes(out)
	return out
}

// deriveKeys derives the AES key and the (zero-padded) checksum key from the
// shared secret: base = HMAC-SHA1(secret, username), encKey = base[0:16],
// hmacKey = base[16:] padded to 16 bytes.
func deriveKeys(secret []byte, username string) (encKey, hmacKey []byte) {
	mac := hmac.New(sha1.New, secret)
	mac.Write([]byte(username))
	base := mac.Sum(nil)

	encKey = base[:16]
	hmacKey = make([]byte, 16)
	copy(hmacKey, base[16:])
	return encKey, hmacKey
}

// encryptBlob is the deterministic core: AES-128-CTR over username:password
// with the key derived from the shared secret, returning iv||ciphertext.
func encryptBlob(secret []byte, username, password string, iv []byte) ([]byte, error) {
	if len(iv) != ivBytes {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", ivBytes, len(iv))
	}

	encKey, _ := deriveKeys(secret, username)
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}

	plaintext := []byte(username + ":" + password)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, plaintext)

	out := make([]byte, 0, len(iv)+len(ciphertext))
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}
