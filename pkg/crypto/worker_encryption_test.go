package crypto

import "testing"

func TestEncryptor_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"short key is stretched", "secret"},
		{"exact 32 byte key", "0123456789abcdef0123456789abcdef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncryptor([]byte(tt.key))
			if err != nil {
				t.Fatalf("NewEncryptor() error = %v", err)
			}

			ct, err := enc.Encrypt("1000.refresh.token")
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if ct == "1000.refresh.token" {
				t.Fatal("ciphertext equals plaintext")
			}
			if !IsEncrypted(ct) {
				t.Errorf("IsEncrypted(%q) = false", ct)
			}

			pt, err := enc.Decrypt(ct)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if pt != "1000.refresh.token" {
				t.Errorf("Decrypt() = %q", pt)
			}
		})
	}
}

func TestEncryptor_EmptyAndTampered(t *testing.T) {
	enc, err := NewEncryptor([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}

	if ct, _ := enc.Encrypt(""); ct != "" {
		t.Errorf("Encrypt(\"\") = %q, want empty", ct)
	}

	ct, _ := enc.Encrypt("token")
	other, _ := NewEncryptor([]byte("other"))
	if _, err := other.Decrypt(ct); err != ErrDecryptionFailed {
		t.Errorf("Decrypt with wrong key error = %v, want ErrDecryptionFailed", err)
	}
	if _, err := enc.Decrypt(Prefix + "c2hvcnQ"); err != ErrInvalidCiphertext {
		t.Errorf("Decrypt short input error = %v, want ErrInvalidCiphertext", err)
	}
	if _, err := enc.Decrypt("1000.legacy.token"); err != ErrInvalidCiphertext {
		t.Errorf("Decrypt untagged input error = %v, want ErrInvalidCiphertext", err)
	}
	if IsEncrypted("1000.legacy.token") {
		t.Error("IsEncrypted(untagged) = true")
	}
}

func TestNewEncryptor_EmptyKey(t *testing.T) {
	if _, err := NewEncryptor(nil); err != ErrEmptyKey {
		t.Errorf("NewEncryptor(nil) error = %v, want ErrEmptyKey", err)
	}
}
