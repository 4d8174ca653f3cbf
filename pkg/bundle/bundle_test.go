package bundle

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ztdns/gateway/pkg/types"
)

func TestValidPlatform(t *testing.T) {
	for _, tag := range Platforms() {
		if !ValidPlatform(tag) {
			t.Errorf("platform %q should be valid", tag)
		}
	}
	if ValidPlatform("beos-ppc") {
		t.Error("unknown platform accepted")
	}
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	binDir := filepath.Join(dir, "binaries")
	if err := os.MkdirAll(binDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(binDir, "ztendpoint-linux-amd64"), []byte("#!fake\n"), 0755); err != nil {
		t.Fatal(err)
	}

	b := NewBuilder(dir)

	var buf bytes.Buffer
	err := b.Build(&buf, &Input{
		Endpoint: &types.Endpoint{
			CN:        "c3fa91b20d84aa",
			Name:      "alice",
			Role:      types.EndpointRoleClient,
			Platform:  "linux-x64",
			CreatedAt: time.Now(),
		},
		CertPEM:   []byte("cert"),
		KeyPEM:    []byte("key"),
		CAPEM:     []byte("ca"),
		Token:     "payload.signature",
		DoTAddr:   "203.0.113.7:853",
		ProxyAddr: "203.0.113.7:8443",
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("bundle is not a zip: %v", err)
	}

	want := map[string]bool{
		"ztendpoint-linux-amd64": false,
		"endpoint.crt":           false,
		"endpoint.key":           false,
		"ca.crt":                 false,
		"config.zt":              false,
		"README.txt":             false,
	}
	for _, f := range zr.File {
		if _, ok := want[f.Name]; !ok {
			t.Errorf("unexpected bundle entry %q", f.Name)
			continue
		}
		want[f.Name] = true
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("bundle entry %q missing", name)
		}
	}
}

func TestBuildUnknownBinary(t *testing.T) {
	b := NewBuilder(t.TempDir())

	err := b.Build(&bytes.Buffer{}, &Input{
		Endpoint: &types.Endpoint{Platform: "linux-x64"},
	})
	if err == nil {
		t.Error("expected error for missing binary")
	}
}
