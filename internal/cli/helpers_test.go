package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/ethbank/internal/config"
)

const (
	alice   = "0x00000000000000000000000000000000000a11ce"
	bob     = "0x0000000000000000000000000000000000000b0b"
	refuser = "0x00000000000000000000000000000000000dead0"
)

const sqliteConfig = `
store:
  driver: sqlite
  path: ledger.db
ledger:
  max_message_bytes: 32
genesis:
  - address: "` + alice + `"
    balance: "1000"
  - address: "` + refuser + `"
    balance: "0"
    refuses_funds: true
`

// inLedgerDir runs the test from a fresh directory holding ethbank.yaml, so
// every command picks it up as the default config.
func inLedgerDir(t *testing.T, yamlConfig string) string {
	t.Helper()
	for _, key := range []string{
		config.EnvStoreDriver, config.EnvStorePath, config.EnvStoreDSN,
		config.EnvServerAddr, config.EnvMaxMessageBytes, config.EnvEventsBuffer,
		config.EnvKafkaBrokers, config.EnvKafkaTopic,
	} {
		if _, ok := os.LookupEnv(key); ok {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}

	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ethbank.yaml"), []byte(yamlConfig), 0o644))
	return dir
}

// execute runs the root command and returns stdout, stderr and the error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}
