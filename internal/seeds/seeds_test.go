package seeds

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fliupa/cni-scrapy/internal/harvest"
)

func TestParseFiltersAndDedupes(t *testing.T) {
	t.Parallel()

	in := strings.Join([]string{
		"  https://www.snieg.mx/cni/escenario.aspx?idOrden=1.1&ind=6200093973  ",
		"",
		"# comentario",
		"ftp://example.com/file",
		"https://www.snieg.mx/cni/escenario.aspx?idOrden=1.2&ind=6200240336",
		"https://www.snieg.mx/cni/escenario.aspx?idOrden=1.1&ind=6200093973",
		"http://plain.example/a\r",
	}, "\n")

	got, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://www.snieg.mx/cni/escenario.aspx?idOrden=1.1&ind=6200093973",
		"https://www.snieg.mx/cni/escenario.aspx?idOrden=1.2&ind=6200240336",
		"http://plain.example/a",
	}, got)
}

func TestReadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Read(filepath.Join(t.TempDir(), "metadatos_links.txt"))
	require.ErrorIs(t, err, harvest.ErrNoSeeds)
}

func TestReadEmptyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "metadatos_links.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n\nnot a url\n"), 0o600))
	_, err := Read(path)
	require.ErrorIs(t, err, harvest.ErrNoSeeds)
}

func TestRead(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "metadatos_links.txt")
	require.NoError(t, os.WriteFile(path, []byte("https://x/a\nhttps://x/b\n"), 0o600))
	got, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, []string{"https://x/a", "https://x/b"}, got)
}
