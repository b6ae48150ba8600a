package storage

import "time"

// Record is the session state persisted between runs. Cookies is the
// gateway's fallback cookie header value; it is enough to resume the
// session on the next start.
type Record struct {
	Cookies string    `json:"cookies"`
	SavedAt time.Time `json:"saved_at"`
}

// fileFormat is the on-disk envelope. Exactly one of Record or Data is set
// depending on whether the file is sealed.
type fileFormat struct {
	Sealed bool    `json:"sealed"`
	Record *Record `json:"record,omitempty"`
	Salt   string  `json:"salt,omitempty"` // base64 argon2 salt
	Data   string  `json:"data,omitempty"` // base64 nonce || ciphertext
}
