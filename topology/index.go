package topology

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

type MissingArtifactsError struct {
	Paths []string
}

func (e *MissingArtifactsError) Error() string {
	return fmt.Sprintf("topology index references missing artifacts: %s", strings.Join(e.Paths, ", "))
}

// Renders the jsonnet index that the deployment templates import. It holds maxN (the largest node
// count) and one importstr entry per distinct size.
func RenderIndex(sizes []Size) ([]byte, error) {
	sizes = Distinct(sizes)
	if len(sizes) == 0 {
		return nil, errors.New("cannot render a topology index without sizes")
	}

	maxN := 0
	for _, s := range sizes {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		maxN = max(maxN, s.Nodes)
	}

	var buf bytes.Buffer
	buf.WriteString("{\n")
	fmt.Fprintf(&buf, "  'maxN': %d,\n", maxN)
	for _, s := range sizes {
		fmt.Fprintf(&buf, "  '%s': (importstr './%s'),\n", s.Name(), s.ArtifactFileName())
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// Writes the index into dir. Every referenced artifact must already exist in dir, otherwise a
// *MissingArtifactsError is returned and the previous index (if any) is left untouched.
func WriteIndex(dir string, sizes []Size) (string, error) {
	doc, err := RenderIndex(sizes)
	if err != nil {
		return "", err
	}

	missing := []string{}
	for _, s := range Distinct(sizes) {
		p := filepath.Join(dir, s.ArtifactFileName())
		if !artifactExists(p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return "", &MissingArtifactsError{Paths: missing}
	}

	indexPath := filepath.Join(dir, IndexFileName)
	tmp, err := os.CreateTemp(dir, IndexFileName+".*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(doc)
	if err == nil {
		err = tmp.Chmod(0o644)
	}
	if err != nil {
		tmp.Close()
		return "", err
	}
	err = tmp.Close()
	if err != nil {
		return "", err
	}
	err = os.Rename(tmp.Name(), indexPath)
	if err != nil {
		return "", fmt.Errorf("failed to move topology index into place: %w", err)
	}

	slog.Info("wrote topology index", slog.String("path", indexPath), slog.Int("sizes", len(Distinct(sizes))))
	return indexPath, nil
}
