// Package password hashes and verifies room passphrases with Argon2id.
//
// Hashes use a PHC-like encoded string:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Encoded hashes are treated as untrusted input during Verify: decoding is strict and
// verification refuses parameters far above the configured cost.
package password
