package docfile

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bytedance/sonic"
)

// CLIText extracts PDF text by shelling out to pdftotext. Pages come
// back split on the form-feed separators pdftotext emits.
type CLIText struct {
	Bin string // defaults to "pdftotext"
}

func (c CLIText) bin() string {
	if c.Bin == "" {
		return "pdftotext"
	}
	return c.Bin
}

func (c CLIText) Pages(ctx context.Context, path string) ([]string, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, c.bin(), "-layout", "-enc", "UTF-8", path, "-")
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftotext %s: %w", path, err)
	}
	return strings.Split(out.String(), "\f"), nil
}

// CLITables runs an external table-extraction command that prints
// JSON: [{"page": n, "rows": [[...]]}, ...]. The stock deployment
// points it at a small camelot wrapper script.
type CLITables struct {
	Bin  string
	Args []string
}

func (c CLITables) Tables(ctx context.Context, path string) ([]Table, error) {
	raw, err := runJSON(ctx, c.Bin, append(c.Args, path))
	if err != nil {
		return nil, err
	}
	var tables []Table
	if err := sonic.Unmarshal(raw, &tables); err != nil {
		return nil, fmt.Errorf("decode tables for %s: %w", path, err)
	}
	return tables, nil
}

// CLICharts runs an external chart-dump command for PPTX decks that
// prints JSON: [{"title": ..., "categories": [...], "series": {...}}].
type CLICharts struct {
	Bin  string
	Args []string
}

func (c CLICharts) Charts(ctx context.Context, path string) ([]Chart, error) {
	raw, err := runJSON(ctx, c.Bin, append(c.Args, path))
	if err != nil {
		return nil, err
	}
	var charts []Chart
	if err := sonic.Unmarshal(raw, &charts); err != nil {
		return nil, fmt.Errorf("decode charts for %s: %w", path, err)
	}
	return charts, nil
}

func runJSON(ctx context.Context, bin string, args []string) ([]byte, error) {
	var out, errb bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &out
	cmd.Stderr = &errb
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", bin, err, strings.TrimSpace(errb.String()))
	}
	return out.Bytes(), nil
}
