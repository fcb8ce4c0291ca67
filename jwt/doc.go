// Package jwt issues and verifies step-up assurance tokens: short-lived JWTs
// stating that a subject completed verification at a given risk level.
package jwt
