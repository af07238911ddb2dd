package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coinkeep.json")
	if err := os.WriteFile(path, []byte(`{"web3":{"chain_config":"chains.yaml"},"runtime":{"data_dir":"state"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvWalletKeys, "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Server.Address)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "state") {
		t.Fatalf("unexpected data dir %s", cfg.Runtime.DataDir)
	}
	if cfg.Storage.Driver != "file" || cfg.Storage.File.Path != filepath.Join(dir, "state", "local_storage.json") {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.Storage.AgentsKey != "coinkeep_agents" || cfg.Storage.UserKey != "ck_user" {
		t.Fatalf("unexpected storage keys: %+v", cfg.Storage)
	}
	if cfg.Web3.ChainConfig != filepath.Join(dir, "chains.yaml") {
		t.Fatalf("unexpected chain config %s", cfg.Web3.ChainConfig)
	}
	if cfg.Web3.DefaultChainID != 1 {
		t.Fatalf("unexpected default chain %d", cfg.Web3.DefaultChainID)
	}
	if cfg.Auth.Statement != "Sign in to CoinKeep Business Dashboard" {
		t.Fatalf("unexpected statement %q", cfg.Auth.Statement)
	}
	if !cfg.Server.MetricsOn() {
		t.Fatal("metrics should default to on")
	}
}

func TestLoadReadsWalletKeysFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coinkeep.json")
	if err := os.WriteFile(path, []byte(`{"web3":{"private_keys":["aa"]}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvWalletKeys, " bb , ,cc")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"bb", "cc", "aa"}
	if len(cfg.Web3.PrivateKeys) != 3 {
		t.Fatalf("unexpected keys %v", cfg.Web3.PrivateKeys)
	}
	for _, key := range want {
		found := false
		for _, got := range cfg.Web3.PrivateKeys {
			if got == key {
				found = true
			}
		}
		if !found {
			t.Fatalf("missing key %s in %v", key, cfg.Web3.PrivateKeys)
		}
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coinkeep.json")
	content := `{"storage":{"file":{"path":"../shared/store.json"}},"logging":{"audit":{"enabled":true,"path":"audit.log"}},"auth":{"domain":"pay.example","required":true}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.File.Path != filepath.Join(dir, "..", "shared", "store.json") {
		t.Fatalf("unexpected file path %s", cfg.Storage.File.Path)
	}
	if cfg.Logging.Audit.Path != filepath.Join(dir, "audit.log") {
		t.Fatalf("unexpected audit path %s", cfg.Logging.Audit.Path)
	}
	if cfg.Auth.URI != "http://pay.example" || !cfg.Auth.Required {
		t.Fatalf("unexpected auth config %+v", cfg.Auth)
	}
}
