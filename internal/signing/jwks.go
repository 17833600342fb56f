package signing

import "encoding/base64"

// JWK is a single Ed25519 public key in JSON Web Key form.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	Kid string `json:"kid"`
	X   string `json:"x"`
	Use string `json:"use"`
	Alg string `json:"alg"`
}

// JWKS is the published key set clients use for offline verification.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWKS returns every registered public key, including retired kids so
// tokens signed before a rotation keep verifying until they expire.
func (k *KeyStore) JWKS() JWKS {
	set := JWKS{Keys: make([]JWK, 0, len(k.keys))}
	for _, kid := range k.Kids() {
		set.Keys = append(set.Keys, JWK{
			Kty: "OKP",
			Crv: "Ed25519",
			Kid: kid,
			X:   base64.RawURLEncoding.EncodeToString(k.keys[kid].public),
			Use: "sig",
			Alg: "EdDSA",
		})
	}
	return set
}
