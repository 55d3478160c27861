package acmeclient

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"testing"

	"certhub/internal/model"
)

func TestDirectoryURL(t *testing.T) {
	ca := &model.CertificateAuthority{
		DirectoryURL:        "https://acme.letscertify.example/directory",
		StagingDirectoryURL: "https://acme-staging.letscertify.example/directory",
	}

	if got := directoryURL(ca, false); got != ca.DirectoryURL {
		t.Errorf("production directory = %s", got)
	}
	if got := directoryURL(ca, true); got != ca.StagingDirectoryURL {
		t.Errorf("staging directory = %s", got)
	}

	// CA without a staging endpoint falls back to production
	ca.StagingDirectoryURL = ""
	if got := directoryURL(ca, true); got != ca.DirectoryURL {
		t.Errorf("staging fallback = %s", got)
	}
}

func TestGenerateCertKey(t *testing.T) {
	tests := []struct {
		keyType string
		wantErr bool
	}{
		{"", false},
		{"ECDSA256", false},
		{"ecdsa256", false},
		{"RSA2048", false},
		{"ed25519", true},
	}

	for _, tt := range tests {
		key, err := generateCertKey(tt.keyType)
		if tt.wantErr {
			if err == nil {
				t.Errorf("generateCertKey(%q) should fail", tt.keyType)
			}
			continue
		}
		if err != nil {
			t.Errorf("generateCertKey(%q): %v", tt.keyType, err)
			continue
		}
		if key == nil {
			t.Errorf("generateCertKey(%q) returned nil key", tt.keyType)
		}
	}
}

func TestPrivateKeyRoundTrip(t *testing.T) {
	for _, keyType := range []string{"ECDSA256", "RSA2048"} {
		key, err := generateCertKey(keyType)
		if err != nil {
			t.Fatalf("generateCertKey(%s): %v", keyType, err)
		}

		encoded, err := encodePrivateKey(key)
		if err != nil {
			t.Fatalf("encodePrivateKey(%s): %v", keyType, err)
		}

		parsed, err := parsePrivateKey(encoded)
		if err != nil {
			t.Fatalf("parsePrivateKey(%s): %v", keyType, err)
		}

		switch keyType {
		case "ECDSA256":
			if _, ok := parsed.(*ecdsa.PrivateKey); !ok {
				t.Errorf("parsed %s key has type %T", keyType, parsed)
			}
		case "RSA2048":
			if _, ok := parsed.(*rsa.PrivateKey); !ok {
				t.Errorf("parsed %s key has type %T", keyType, parsed)
			}
		}
	}
}

func TestParsePrivateKeyRejectsGarbage(t *testing.T) {
	if _, err := parsePrivateKey("not a pem block"); err == nil {
		t.Error("parsePrivateKey should reject non-PEM input")
	}
}
