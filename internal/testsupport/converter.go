package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// Converter writes a canned PDF named after the source package, as the office suite does
type Converter struct {
	Pages []string
	Err   error
	Calls int
}

func (c *Converter) Name() string { return "canned" }

func (c *Converter) ConvertToPDF(_ context.Context, packagePath, outDir string) (string, error) {
	c.Calls++
	if c.Err != nil {
		return "", c.Err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", err
	}
	base := strings.TrimSuffix(filepath.Base(packagePath), filepath.Ext(packagePath))
	out := filepath.Join(outDir, base+".pdf")
	return out, os.WriteFile(out, MinimalPDF(c.Pages...), 0644)
}
