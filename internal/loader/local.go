package loader

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/yungbote/graphsmith-backend/internal/types"
)

// LocalLoader reads uploaded files from a base directory. Refs are resolved
// relative to the base; escaping the base is treated as access denied.
type LocalLoader struct {
	BaseDir string
}

func NewLocalLoader(baseDir string) *LocalLoader {
	return &LocalLoader{BaseDir: baseDir}
}

func (l *LocalLoader) Load(ctx context.Context, ref string) (Content, error) {
	path := filepath.Join(l.BaseDir, filepath.Clean("/"+ref))
	if l.BaseDir != "" && !strings.HasPrefix(path, filepath.Clean(l.BaseDir)+string(os.PathSeparator)) {
		return Content{}, fmt.Errorf("loader: %q: %w", ref, types.ErrSourceAccessDenied)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Content{}, tagFSError(ref, err)
	}

	var text string
	var pages int
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		text, pages, err = readPDF(path)
	} else {
		var raw []byte
		raw, err = os.ReadFile(path)
		text = string(raw)
	}
	if err != nil {
		return Content{}, tagFSError(ref, err)
	}
	return Content{
		Text:  text,
		Title: filepath.Base(path),
		Size:  info.Size(),
		Pages: pages,
	}, nil
}

func readPDF(path string) (string, int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			// Skip unreadable pages rather than failing the document.
			continue
		}
		buf.WriteString(content)
		buf.WriteString("\n")
	}
	return buf.String(), total, nil
}

func tagFSError(ref string, err error) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("loader: %q: %w", ref, types.ErrSourceNotFound)
	case os.IsPermission(err):
		return fmt.Errorf("loader: %q: %w", ref, types.ErrSourceAccessDenied)
	}
	return fmt.Errorf("loader: %q: %w", ref, err)
}
