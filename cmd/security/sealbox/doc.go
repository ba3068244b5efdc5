// Package sealbox seals note content at rest with XChaCha20-Poly1305.
//
// The AEAD key is derived with HKDF-SHA256 from a server secret. Sealed values are
// text-safe: a short prefix followed by base64(nonce || ciphertext), so they fit in the
// same TEXT column as plaintext notes.
//
// Environment:
//   - NOTESYNC_CONTENT_KEY: secret used to derive the sealing key (>= 32 bytes).
//     When unset, callers may fall back to an ephemeral key (content sealed with it is
//     unreadable after restart).
package sealbox
