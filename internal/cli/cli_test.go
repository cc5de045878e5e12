package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vadim/dealroom/internal/auth"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestStages(t *testing.T) {
	out, err := run(t, "stages", "--role", "buyer")
	if err != nil {
		t.Fatalf("stages error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 7 {
		t.Fatalf("got %d lines, want header + 6 stages:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[1], "inquiry") || !strings.Contains(lines[1], "request_nda") {
		t.Errorf("inquiry line = %q", lines[1])
	}
	if !strings.Contains(lines[3], "create_offer") || strings.Contains(lines[3], "request_nda") {
		t.Errorf("offer line = %q, want create_offer without request_nda", lines[3])
	}
	if !strings.HasPrefix(lines[6], "completed") || !strings.Contains(lines[6], "100%") {
		t.Errorf("completed line = %q", lines[6])
	}
}

func TestStages_UnknownRole(t *testing.T) {
	if _, err := run(t, "stages", "--role", "broker"); err == nil {
		t.Error("stages with unknown role: error = nil")
	}
	stagesRole = "buyer"
}

func TestSeed_BuiltIn(t *testing.T) {
	out, err := run(t, "seed")
	if err != nil {
		t.Fatalf("seed error = %v", err)
	}
	if !strings.Contains(out, "conversations") {
		t.Errorf("seed output = %q", out)
	}
}

func TestToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("auth:\n  jwt_secret: cli-secret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	defer func() { configPath = "" }()

	out, err := run(t, "--config", path, "token", "seller-anna", "--role", "seller")
	if err != nil {
		t.Fatalf("token error = %v", err)
	}

	id, err := auth.NewService("cli-secret", 0).Check(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if id.UserID != "seller-anna" || id.Role != "seller" {
		t.Errorf("identity = %+v", id)
	}
}

func TestMigrate_List(t *testing.T) {
	out, err := run(t, "migrate", "--list")
	migrateList = false
	if err != nil {
		t.Fatalf("migrate --list error = %v", err)
	}
	if !strings.Contains(out, "001_deal_conversations.sql") {
		t.Errorf("migrate --list = %q", out)
	}
}
