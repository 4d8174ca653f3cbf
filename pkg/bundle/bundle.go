package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ztdns/gateway/pkg/types"
)

// binaryNames maps a platform tag to the endpoint binary shipped in the
// bundle. The binaries are cross-compiled out of band and dropped into
// the binaries directory.
var binaryNames = map[string]string{
	"linux-x64":   "ztendpoint-linux-amd64",
	"linux-arm64": "ztendpoint-linux-arm64",
	"win-x64":     "ztendpoint-windows-amd64.exe",
	"win-arm64":   "ztendpoint-windows-arm64.exe",
}

// Platforms lists the supported platform tags
func Platforms() []string {
	return []string{"linux-x64", "linux-arm64", "win-x64", "win-arm64"}
}

// ValidPlatform reports whether tag is a known platform
func ValidPlatform(tag string) bool {
	_, ok := binaryNames[tag]
	return ok
}

// Input is everything a deployment bundle binds together
type Input struct {
	Endpoint *types.Endpoint
	CertPEM  []byte
	KeyPEM   []byte
	CAPEM    []byte
	Token    string // signed configuration (config.zt)

	// For the README
	DoTAddr   string
	ProxyAddr string
}

// Builder assembles deployment bundles from the binaries directory
type Builder struct {
	binDir string
}

// NewBuilder creates a bundle builder rooted in <dataDir>/binaries
func NewBuilder(dataDir string) *Builder {
	return &Builder{
		binDir: filepath.Join(dataDir, "binaries"),
	}
}

// BinaryPath returns the on-disk endpoint binary for a platform
func (b *Builder) BinaryPath(platform string) (string, error) {
	name, ok := binaryNames[platform]
	if !ok {
		return "", fmt.Errorf("unknown platform: %q", platform)
	}
	path := filepath.Join(b.binDir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("endpoint binary %s not found: %w", name, err)
	}
	return path, nil
}

// Build writes the bundle archive: the platform binary, the endpoint's
// credential pair, the CA certificate, the signed configuration, and a
// short README.
func (b *Builder) Build(w io.Writer, in *Input) error {
	binPath, err := b.BinaryPath(in.Endpoint.Platform)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)

	if err := b.addFile(zw, binPath); err != nil {
		return err
	}
	for _, entry := range []struct {
		name string
		data []byte
	}{
		{"endpoint.crt", in.CertPEM},
		{"endpoint.key", in.KeyPEM},
		{"ca.crt", in.CAPEM},
		{"config.zt", []byte(in.Token)},
		{"README.txt", readme(in)},
	} {
		fw, err := zw.Create(entry.name)
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", entry.name, err)
		}
		if _, err := fw.Write(entry.data); err != nil {
			return fmt.Errorf("failed to write %s: %w", entry.name, err)
		}
	}

	return zw.Close()
}

func (b *Builder) addFile(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	fw, err := zw.Create(filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", path, err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func readme(in *Input) []byte {
	if in.Endpoint.Role == types.EndpointRoleService {
		return []byte(fmt.Sprintf(
			"ZeroTrust Service: %s\nRun this binary on the service host.\nConnects to proxy at: %s\nClients are routed through the gateway DNS at %s\n",
			in.Endpoint.Name, in.ProxyAddr, in.DoTAddr))
	}
	return []byte(fmt.Sprintf(
		"ZeroTrust Client: %s\nRun binary, then point DNS at 127.0.0.1\nAll service traffic is routed through %s\n",
		in.Endpoint.Name, in.ProxyAddr))
}
