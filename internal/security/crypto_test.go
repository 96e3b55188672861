package security

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSealOpen_RoundTrip(t *testing.T) {
	plaintext := []byte("notifications:\n  whatsapp:\n    auth_token: secret\n")
	passphrase := []byte("correct horse")

	sealed, err := Seal(plaintext, passphrase)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if bytes.Contains(sealed, []byte("secret")) {
		t.Error("sealed output contains plaintext")
	}
	if !bytes.HasPrefix(sealed, header) {
		t.Error("sealed output missing header")
	}

	got, err := Open(sealed, passphrase)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Open() = %q, want %q", got, plaintext)
	}
}

func TestSeal_UniqueOutput(t *testing.T) {
	a, _ := Seal([]byte("same"), []byte("pw"))
	b, _ := Seal([]byte("same"), []byte("pw"))
	if bytes.Equal(a, b) {
		t.Error("two seals of the same input are identical")
	}
}

func TestOpen_Errors(t *testing.T) {
	sealed, err := Seal([]byte("data"), []byte("pw"))
	if err != nil {
		t.Fatal(err)
	}
	tampered := bytes.Clone(sealed)
	tampered[len(header)+40] ^= 0x01

	tests := []struct {
		name       string
		data       []byte
		passphrase string
		wantErr    error
	}{
		{"wrong passphrase", sealed, "nope", nil},
		{"no passphrase", sealed, "", ErrNoPassphrase},
		{"plain yaml", []byte("database:\n  driver: sqlite\n"), "pw", ErrNotSealed},
		{"truncated", append(bytes.Clone(header), "AAAA\n"...), "pw", nil},
		{"tampered", tampered, "pw", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.data, []byte(tt.passphrase))
			if err == nil {
				t.Fatal("Open() error = nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Open() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReadWriteFile(t *testing.T) {
	dir := t.TempDir()
	plaintext := []byte("redis:\n  password: hunter2\n")

	path, err := WriteFile(filepath.Join(dir, "stockalert.yaml"), plaintext, []byte("pw"))
	if err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if filepath.Base(path) != "stockalert.yaml.enc" {
		t.Errorf("WriteFile() path = %s, want stockalert.yaml.enc", filepath.Base(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	got, err := ReadFile(path, []byte("pw"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("ReadFile() = %q, want %q", got, plaintext)
	}

	plain := filepath.Join(dir, "plain.yaml")
	os.WriteFile(plain, plaintext, 0600)
	got, err = ReadFile(plain, nil)
	if err != nil {
		t.Fatalf("ReadFile(plain) error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("ReadFile(plain) = %q, want %q", got, plaintext)
	}

	if _, err := ReadFile(path, nil); !errors.Is(err, ErrNoPassphrase) {
		t.Errorf("ReadFile(no passphrase) error = %v, want ErrNoPassphrase", err)
	}
}
