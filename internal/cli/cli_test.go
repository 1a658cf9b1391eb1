package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`sqlite:
  path: %s
redis:
  enabled: false
logging:
  level: error
  format: console
  outputPath: stderr
`, filepath.Join(dir, "cli.db"))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "fisioflow-ai", SilenceUsage: true, SilenceErrors: true}
	AddConfigFlag(root)
	root.AddCommand(NewCacheCmd(), NewKBCmd(), NewAnalyticsCmd(), NewProvidersCmd())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKBImportAndStats(t *testing.T) {
	cfgPath := writeConfig(t)
	doc := filepath.Join(t.TempDir(), "ombro.html")
	html := `<html><head><title>Protocolo de ombro congelado</title></head><body>
		<p>Mobilização progressiva para capsulite adesiva do ombro.</p>
		<h2>Técnicas</h2><ul><li>Mobilização articular</li><li>Alongamento capsular</li></ul>
		</body></html>`
	if err := os.WriteFile(doc, []byte(html), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "--config", cfgPath, "kb", "import", "--tenant", "clinic-a", doc)
	if err != nil {
		t.Fatalf("kb import: %v (%s)", err, out)
	}
	if !strings.Contains(out, doc+" -> ") {
		t.Errorf("import output = %q", out)
	}

	out, err = run(t, "--config", cfgPath, "kb", "stats")
	if err != nil {
		t.Fatalf("kb stats: %v", err)
	}
	if !strings.Contains(out, `"total_entries": 1`) {
		t.Errorf("stats output = %s", out)
	}
}

func TestKBImportRequiresTenant(t *testing.T) {
	cfgPath := writeConfig(t)
	if _, err := run(t, "--config", cfgPath, "kb", "import", "missing.html"); err == nil {
		t.Fatal("expected an error without --tenant")
	}
	if _, err := run(t, "--config", cfgPath, "kb", "import", "--tenant", "clinic-a", "--type", "recipe", "missing.html"); err == nil {
		t.Fatal("expected an error for an unknown entry type")
	}
}

func TestAnalyticsReport(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := run(t, "--config", cfgPath, "analytics", "report", "day", "--rollup")
	if err != nil {
		t.Fatalf("report: %v (%s)", err, out)
	}
	if !strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("report is not JSON: %s", out)
	}

	if _, err := run(t, "--config", cfgPath, "analytics", "report", "decade"); err == nil {
		t.Error("expected an error for an unknown period")
	}
}

func TestCacheCommands(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := run(t, "--config", cfgPath, "cache", "clear")
	if err != nil || !strings.Contains(out, "Cache cleared.") {
		t.Fatalf("cache clear: %v (%s)", err, out)
	}
	if _, err := run(t, "--config", cfgPath, "cache", "stats"); err != nil {
		t.Fatalf("cache stats: %v", err)
	}
}
