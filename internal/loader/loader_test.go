package loader

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func writeDocx(t *testing.T, dir, name string, paragraphs ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create(docxBody)
	require.NoError(t, err)

	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	body.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	body.WriteString(`</w:body></w:document>`)
	_, err = w.Write([]byte(body.String()))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return path
}

// writePDF builds a one-page PDF showing text in Helvetica, with a correct
// xref table.
func writePDF(t *testing.T, dir, name, text string) string {
	t.Helper()
	stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return writeFile(t, dir, name, buf.Bytes())
}

func TestLoad_Text(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello world")...))

	segs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "hello world", segs[0].Text)
	assert.Equal(t, "txt", segs[0].Metadata[MetaFormat])
	assert.Equal(t, path, segs[0].Metadata[MetaSource])
}

func TestLoad_TextUpperCaseExtension(t *testing.T) {
	path := writeFile(t, t.TempDir(), "NOTES.TXT", []byte("shout"))
	segs, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "shout", segs[0].Text)
}

func TestLoad_InvalidUTF8IsRepaired(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.txt", []byte{'o', 'k', 0xff, '!'})
	segs, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ok�!", segs[0].Text)
}

func TestLoad_Docx(t *testing.T) {
	path := writeDocx(t, t.TempDir(), "paper.docx", "First paragraph.", "Second paragraph.")

	segs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "First paragraph.\nSecond paragraph.", segs[0].Text)
	assert.Equal(t, "docx", segs[0].Metadata[MetaFormat])
}

func TestLoad_DocThatIsOOXML(t *testing.T) {
	path := writeDocx(t, t.TempDir(), "legacy.doc", "Saved with the old extension.")

	segs, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Saved with the old extension.", segs[0].Text)
	assert.Equal(t, "doc", segs[0].Metadata[MetaFormat])
}

func TestLoad_BinaryDoc(t *testing.T) {
	var data []byte
	data = append(data, 0xD0, 0xCF, 0x11, 0xE0, 0x00, 0x01, 0x02, 0x03)
	for _, u := range utf16.Encode([]rune("Quarterly planning notes")) {
		data = append(data, byte(u), byte(u>>8))
	}
	data = append(data, 0x00, 0x00, 0x01, 0x00)
	path := writeFile(t, t.TempDir(), "old.doc", data)

	segs, err := Load(path)
	require.NoError(t, err)
	assert.Contains(t, segs[0].Text, "Quarterly planning notes")
}

func TestLoad_UnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"slides.pptx", "README.md", "noext", "archive.tar.gz"} {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, dir, name, []byte("content"))
			_, err := Load(path)
			require.Error(t, err)
			assert.True(t, IsUnsupportedFormat(err))

			var ufe *UnsupportedFormatError
			require.True(t, errors.As(err, &ufe))
			assert.Equal(t, strings.ToLower(filepath.Ext(name)), ufe.Ext)
		})
	}
}

func TestLoad_NonEmptyInputYieldsSegments(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeFile(t, dir, "a.txt", []byte("plain text")),
		writeDocx(t, dir, "b.docx", "docx text"),
		writeDocx(t, dir, "c.doc", "doc text"),
		writePDF(t, dir, "d.pdf", "pdf text"),
	}
	for _, f := range files {
		segs, err := Load(f)
		require.NoError(t, err, f)
		assert.NotEmpty(t, segs, f)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "empty.txt", nil)
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrNoText)
	assert.Contains(t, err.Error(), "empty.txt")
}

func TestLoad_PDF(t *testing.T) {
	path := writePDF(t, t.TempDir(), "paper.pdf", "Hello knowledge base")

	segs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "Hello knowledge base", strings.TrimSpace(segs[0].Text))
	assert.Equal(t, "pdf", segs[0].Metadata[MetaFormat])
	assert.Equal(t, "1", segs[0].Metadata[MetaPage])
}

func TestLoad_DocZipWithoutBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "odd.doc")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/styles.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(strings.Repeat("<w:style/>", 200)))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	_, err = Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, errMissingBody)
	assert.False(t, IsUnsupportedFormat(err))
	assert.Contains(t, err.Error(), "odd.doc")
}

func TestLoad_MalformedPDF(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.pdf", []byte("this is not a pdf"))
	_, err := Load(path)
	require.Error(t, err)
	assert.False(t, IsUnsupportedFormat(err))
	assert.Contains(t, err.Error(), "broken.pdf")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "gone.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestText(t *testing.T) {
	segs := []Segment{{Text: "page one"}, {Text: "page two"}}
	assert.Equal(t, "page one\npage two", Text(segs))
	assert.Equal(t, "", Text(nil))
}

func TestCheckExtension(t *testing.T) {
	for _, ext := range SupportedExtensions() {
		assert.NoError(t, CheckExtension("file"+ext))
		assert.NoError(t, CheckExtension("FILE"+strings.ToUpper(ext)))
	}
	assert.Error(t, CheckExtension("file.rtf"))
}
