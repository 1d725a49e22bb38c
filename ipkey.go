package siteguard

import (
	"crypto/sha256"
	"encoding/hex"
)

// KeyCodec derives stable, non-reversible store keys from client IPs. The
// same IP and bucket always map to the same key; raw addresses never reach
// the store.
type KeyCodec struct {
	salt string
}

func NewKeyCodec(salt string) *KeyCodec {
	if salt == "" {
		salt = "siteguard"
	}
	return &KeyCodec{salt: salt}
}

// HashIP returns the bare IP key with no bucket namespace.
func (k *KeyCodec) HashIP(ip string) string {
	return k.digest(ip)
}

// BucketKey namespaces an IP key under a logical bucket such as "login".
func (k *KeyCodec) BucketKey(bucket, ip string) string {
	return k.digest(bucket + "|" + ip)
}

func (k *KeyCodec) digest(material string) string {
	sum := sha256.Sum256([]byte(k.salt + "|" + material))
	return hex.EncodeToString(sum[:16])
}
