package tabular

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fliupa/cni-scrapy/internal/harvest"
)

func schema() harvest.Schema {
	return harvest.Schema{
		IndexColumn: "Índice",
		URLColumn:   "URL",
		Fields: []harvest.Field{
			{Key: harvest.FieldName, Column: "Nombre del Indicador"},
			{Key: harvest.FieldStandards, Column: "Estándares"},
			{Key: "unit", Column: "Unidad de medida"},
		},
	}
}

func TestEncodeWritesBOMAndHeader(t *testing.T) {
	t.Parallel()

	rec := harvest.NewRecord(1, "https://x/a")
	rec.Set(harvest.FieldName, "Población económicamente activa")

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, schema(), []harvest.Record{rec}))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, BOM))
	lines := strings.Split(strings.TrimPrefix(out, BOM), "\n")
	require.Equal(t, "Índice,URL,Nombre del Indicador,Estándares,Unidad de medida", lines[0])
	require.Equal(t, "1,https://x/a,Población económicamente activa,,", lines[1])
}

func TestDecodePreservesNonASCIIAndMultiline(t *testing.T) {
	t.Parallel()

	a := harvest.NewRecord(1, "https://x/a")
	a.Set(harvest.FieldName, "Tasa de informalidad laboral, ñandú")
	a.Set(harvest.FieldStandards, "OIT 1982\nONU \"2008\"")
	b := harvest.NewFailureRecord(2, "https://x/b", 3, errTimeout{})

	data, err := Marshal(schema(), []harvest.Record{a, b})
	require.NoError(t, err)

	got, err := Decode(bytes.NewReader(data), schema())
	require.NoError(t, err)
	require.Equal(t, []harvest.Record{a, b}, got)

	_, set := got[1].Get("unit")
	require.False(t, set)
}

func TestDecodeByHeaderName(t *testing.T) {
	t.Parallel()

	in := "URL,Unidad de medida,Extra,Índice\nhttps://x/c,Porcentaje,zzz,7\n"
	got, err := Decode(strings.NewReader(in), schema())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 7, got[0].Index)
	require.Equal(t, "https://x/c", got[0].URL)
	unit, _ := got[0].Get("unit")
	require.Equal(t, "Porcentaje", unit)
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"missing index column": "URL\nhttps://x/a\n",
		"bad index":            "Índice,URL\nuno,https://x/a\n",
		"unterminated quote":   "Índice,URL\n1,\"https://x/a\n",
	}
	for name, in := range tests {
		in := in
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(strings.NewReader(in), schema())
			require.Error(t, err)
		})
	}
}

func TestDecodeEmptyInput(t *testing.T) {
	t.Parallel()

	got, err := Decode(strings.NewReader(""), schema())
	require.NoError(t, err)
	require.Empty(t, got)
}

type errTimeout struct{}

func (errTimeout) Error() string { return "Timeout 45000ms exceeded." }
