package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	grpcserver "github.com/and161185/lotus-core/internal/server/grpc"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "lotusctl")
}

func Test_cfgDir_And_Paths(t *testing.T) {
	base := withTmpConfig(t)
	if got := cfgDir(); got != base {
		t.Fatalf("cfgDir=%q, want %q", got, base)
	}
	if !strings.HasPrefix(tokenPath(), base) || !strings.HasSuffix(tokenPath(), "token.json") {
		t.Fatalf("tokenPath unexpected: %s", tokenPath())
	}
}

func Test_token_SaveLoad(t *testing.T) {
	_ = withTmpConfig(t)

	if _, err := loadToken(); err == nil {
		t.Fatalf("expected error when token file missing")
	}
	if err := saveToken(tokenFile{AccessToken: "tok", Tenant: "t1", ExpiresAt: time.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	tf, err := loadToken()
	if err != nil || tf.AccessToken != "tok" || tf.Tenant != "t1" {
		t.Fatalf("loadToken: %+v err=%v", tf, err)
	}
	fi, err := os.Stat(tokenPath())
	if err != nil || fi.Mode().Perm() != 0o600 {
		t.Fatalf("token file mode: %v %v", fi, err)
	}
	if err := saveToken(tokenFile{AccessToken: "tok2", ExpiresAt: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("saveToken expired: %v", err)
	}
	if _, err := loadToken(); err == nil {
		t.Fatalf("want error for expired token")
	}
}

func Test_mintToken(t *testing.T) {
	_ = withTmpConfig(t)
	t.Setenv("LOTUS_JWT_KEY", "")

	if err := mintToken([]string{"-tenant", "t1"}); err == nil {
		t.Fatalf("want error without key")
	}
	if err := mintToken([]string{"-tenant", "acme", "-key", "secret", "-ttl", "10m"}); err != nil {
		t.Fatalf("mintToken: %v", err)
	}
	tf, err := loadToken()
	if err != nil || tf.Tenant != "acme" || tf.AccessToken == "" {
		t.Fatalf("loadToken: %+v %v", tf, err)
	}
}

func Test_printJSON_WritesPretty(t *testing.T) {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() { os.Stdout = old }()

	printJSON(map[string]any{"a": 1})
	_ = w.Close()
	out, _ := io.ReadAll(r)

	var m map[string]any
	if json.Unmarshal(out, &m) != nil || m["a"] != float64(1) {
		t.Fatalf("printJSON produced invalid json: %s", string(out))
	}
	if !bytes.Contains(out, []byte("\n")) {
		t.Fatalf("printJSON should indent")
	}
}

func Test_callCreds_Metadata(t *testing.T) {
	t.Parallel()

	c := callCreds{token: "T", tenant: "t1", secure: true}
	md, err := c.GetRequestMetadata(context.Background())
	if err != nil {
		t.Fatalf("GetRequestMetadata: %v", err)
	}
	if md["authorization"] != "Bearer T" || md[grpcserver.TenantHeader] != "t1" {
		t.Fatalf("metadata mismatch: %v", md)
	}
	if !c.RequireTransportSecurity() {
		t.Fatalf("tls creds must require transport security")
	}

	md, _ = callCreds{tenant: "t1"}.GetRequestMetadata(context.Background())
	if _, ok := md["authorization"]; ok {
		t.Fatalf("no token, no authorization header: %v", md)
	}
}

func Test_loadTLS_Variants(t *testing.T) {
	t.Parallel()

	creds, err := loadTLS("", true)
	if err != nil || creds == nil {
		t.Fatalf("insecure: %v %v", creds, err)
	}

	creds, err = loadTLS("", false)
	if err != nil || creds == nil {
		t.Fatalf("default tls: %v %v", creds, err)
	}

	tmp := filepath.Join(t.TempDir(), "bad.pem")
	_ = os.WriteFile(tmp, []byte("not pem"), 0o600)
	creds, err = loadTLS(tmp, false)
	if err == nil || creds != nil {
		t.Fatalf("bad CA should error, got creds=%v err=%v", creds, err)
	}
}

func Test_dial_Plaintext(t *testing.T) {
	t.Parallel()

	conn, cli, err := dial(dialOptions{addr: "passthrough:///localhost:1", plaintext: true, creds: callCreds{tenant: "t1"}})
	if err != nil || cli == nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.Close()
}
