// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"fmt"

	"github.com/awnumar/memguard"
)

// Secret holds an API key in an encrypted memguard enclave.
//
// Description:
//
//	Keys read from the environment are sealed immediately and only opened
//	when a client is constructed. A nil *Secret is a valid "not set" value.
//
// Thread Safety: Safe for concurrent use.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret seals value. Returns nil for an empty value.
func NewSecret(value string) *Secret {
	if value == "" {
		return nil
	}
	return &Secret{enclave: memguard.NewEnclave([]byte(value))}
}

// IsSet reports whether the secret holds a value.
func (s *Secret) IsSet() bool {
	return s != nil && s.enclave != nil
}

// Reveal decrypts the secret.
//
// Outputs:
//   - string: The plaintext key.
//   - error: Non-nil if the secret is unset or the enclave cannot be opened.
func (s *Secret) Reveal() (string, error) {
	if !s.IsSet() {
		return "", fmt.Errorf("secret is not set")
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("opening secret enclave: %w", err)
	}
	defer buf.Destroy()
	return buf.String(), nil
}

// String never prints the value.
func (s *Secret) String() string {
	if !s.IsSet() {
		return "<unset>"
	}
	return "<redacted>"
}
