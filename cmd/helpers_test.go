package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-cua/internal/browser"
	"github.com/xkilldash9x/scalpel-cua/internal/config"
	"github.com/xkilldash9x/scalpel-cua/internal/observability"
)

// resetForTest isolates a test from the caller's environment and the
// process-wide logger.
func resetForTest(t *testing.T) {
	t.Helper()

	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range []string{"OPENAI_API_KEY", "OPENAI_ORG", "DATABASE_URL"} {
		t.Setenv(key, "")
	}
	t.Setenv("SCALPEL_LOGGER_LOG_FILE", filepath.Join(dir, "test.log"))
	t.Setenv("SCALPEL_LOGGER_LEVEL", "error")
	t.Setenv("SCALPEL_STORE_DIR", filepath.Join(dir, "saved_conv"))

	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	origDriver, origDetector := newDriver, newTextDetector
	t.Cleanup(func() { newDriver, newTextDetector = origDriver, origDetector })
}

// execute runs the root command with args and stdin, returning stdout+stderr.
func execute(t *testing.T, root *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// configCommand captures the configuration the root command produced.
func configCommand(captured *config.Interface) *cobra.Command {
	return &cobra.Command{
		Use: "showconfig",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			*captured = cfg
			return err
		},
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(name, []byte(content), 0o644))
	return name
}

// stubDriver is a browser that does nothing and reports one blank tab.
type stubDriver struct {
	closed bool
}

var _ browser.Driver = (*stubDriver)(nil)

func (d *stubDriver) DispatchMouseEvent(context.Context, *input.DispatchMouseEventParams) error {
	return nil
}
func (d *stubDriver) DispatchKeyEvent(context.Context, *input.DispatchKeyEventParams) error {
	return nil
}
func (d *stubDriver) InsertText(context.Context, string) error { return nil }
func (d *stubDriver) Evaluate(context.Context, string, interface{}) error { return nil }
func (d *stubDriver) Navigate(context.Context, string) error { return nil }
func (d *stubDriver) NavigateBack(context.Context) error { return nil }
func (d *stubDriver) CaptureScreenshot(context.Context) ([]byte, error) { return nil, nil }
func (d *stubDriver) WaitVisible(context.Context, string) error { return nil }
func (d *stubDriver) NodeText(context.Context, string) (string, error) { return "", nil }
func (d *stubDriver) CurrentURL(context.Context) (string, error) { return "about:blank", nil }
func (d *stubDriver) ActiveTab() string { return "t0" }
func (d *stubDriver) ActivateTab(context.Context, string) error { return nil }
func (d *stubDriver) Sleep(context.Context, time.Duration) error { return nil }
func (d *stubDriver) Tabs(context.Context) ([]browser.Tab, error) {
	return []browser.Tab{{ID: "t0", URL: "about:blank"}}, nil
}
func (d *stubDriver) Close() error {
	d.closed = true
	return nil
}

func useStubDriver(t *testing.T) *stubDriver {
	t.Helper()
	d := &stubDriver{}
	newDriver = func(context.Context, config.BrowserConfig, *zap.Logger) (browser.Driver, error) {
		return d, nil
	}
	return d
}
