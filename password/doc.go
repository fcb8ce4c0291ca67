// Package password verifies the password verification factor against Argon2id
// hashes held in an identity profile.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// # What this package must NOT do
//
//   - Store or retrieve password hashes. Profiles are owned by the caller.
//   - Log plaintext passwords.
//   - Import any other package from this module.
package password
