package account

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewAccountFromHex(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		want    string
		wantErr bool
	}{
		{
			name: "bare hex",
			key:  TestPrivateKeys[0],
			want: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		},
		{
			name: "0x prefixed",
			key:  "0x" + TestPrivateKeys[1],
			want: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		},
		{
			name:    "garbage",
			key:     "zz",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, err := NewAccountFromHex(tt.key, "tok")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewAccountFromHex() error = %v", err)
			}
			if acc.Address.Hex() != tt.want {
				t.Errorf("Address = %s, want %s", acc.Address.Hex(), tt.want)
			}
			if acc.AuthToken != "tok" {
				t.Errorf("AuthToken = %q, want tok", acc.AuthToken)
			}
		})
	}
}

func TestParse(t *testing.T) {
	input := `[
		{"privateKey": "` + TestPrivateKeys[0] + `", "token": "a"},
		{"privateKey": "0x` + TestPrivateKeys[1] + `", "token": "b"}
	]`
	accounts, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("Parse() returned %d accounts, want 2", len(accounts))
	}
	if accounts[1].AuthToken != "b" {
		t.Errorf("accounts[1].AuthToken = %q, want b", accounts[1].AuthToken)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty array", `[]`},
		{"not json", `nope`},
		{"missing token", `[{"privateKey": "` + TestPrivateKeys[0] + `"}]`},
		{"missing key", `[{"token": "x"}]`},
		{"bad key", `[{"privateKey": "1234", "token": "x"}]`},
		{"one bad among good", `[{"privateKey": "` + TestPrivateKeys[0] + `", "token": "a"}, {"privateKey": "", "token": "b"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "account.json")
	body := `[{"privateKey": "` + TestPrivateKeys[2] + `", "token": "t"}]`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	accounts, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(accounts) != 1 {
		t.Errorf("Load() returned %d accounts, want 1", len(accounts))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Load() of missing file should fail")
	}
}

func TestShortAddress(t *testing.T) {
	acc, err := NewAccountFromHex(TestPrivateKeys[0], "x")
	if err != nil {
		t.Fatal(err)
	}
	if got := ShortAddress(acc.Address); got != "0xf39F...2266" {
		t.Errorf("ShortAddress() = %q", got)
	}
}

func TestLoadTestAccounts(t *testing.T) {
	accounts, err := LoadTestAccounts()
	if err != nil {
		t.Fatalf("LoadTestAccounts() error = %v", err)
	}
	if len(accounts) != len(TestPrivateKeys) {
		t.Errorf("got %d accounts, want %d", len(accounts), len(TestPrivateKeys))
	}
	seen := make(map[string]bool)
	for _, a := range accounts {
		if seen[a.Address.Hex()] {
			t.Errorf("duplicate address %s", a.Address.Hex())
		}
		seen[a.Address.Hex()] = true
	}
}
