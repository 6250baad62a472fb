package source

import (
	"archive/zip"
	"bytes"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"
)

// zipOf returns zip bytes holding the given name/content pairs in order.
func zipOf(t *testing.T, entries ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for i := 0; i+1 < len(entries); i += 2 {
		fw, err := w.Create(entries[i])
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(entries[i+1])); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func wordDoc(text string) string {
	return `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p w:rsidR="00AB"><w:r><w:t xml:space="preserve">` +
		text + `</w:t></w:r></w:p></w:body></w:document>`
}

func slideXML(text string) string {
	return `<p:sld><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
}

func TestPagesFromBytes_plain(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ext     string
		want    []string
	}{
		{"single page", "Hello world\nLine 2", ".txt", []string{"Hello world\nLine 2"}},
		{"form feeds", "page one\fpage two\fpage three", ".md", []string{"page one", "page two", "page three"}},
		{"invalid utf8", "hello\x80world", ".rst", []string{"hello�world"}},
		{"unknown extension", "raw content", ".xyz", []string{"raw content"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PagesFromBytes([]byte(tt.content), tt.ext)
			if err != nil {
				t.Fatalf("PagesFromBytes: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPagesFromBytes_docx(t *testing.T) {
	got, err := PagesFromBytes(zipOf(t, "word/document.xml", wordDoc("Thiazides lower blood pressure")), ".docx")
	if err != nil {
		t.Fatalf("PagesFromBytes: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"Thiazides lower blood pressure"}) {
		t.Errorf("got %q", got)
	}
}

func TestPagesFromBytes_docxContentTypes(t *testing.T) {
	for _, override := range []string{
		`<Override PartName="/word/document2.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>`,
		`<Override ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml" PartName="/word/document2.xml"/>`,
	} {
		content := zipOf(t,
			"[Content_Types].xml", `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">`+override+`</Types>`,
			"word/document2.xml", wordDoc("Content from document2"),
		)
		got, err := PagesFromBytes(content, ".docx")
		if err != nil {
			t.Fatalf("PagesFromBytes: %v", err)
		}
		if got[0] != "Content from document2" {
			t.Errorf("got %q", got)
		}
	}
}

func TestPagesFromBytes_docxMissingBody(t *testing.T) {
	if _, err := PagesFromBytes(zipOf(t, "other.xml", "x"), ".docx"); err == nil {
		t.Error("expected error for missing document part")
	}
}

func TestPagesFromBytes_pptxSlideOrder(t *testing.T) {
	content := zipOf(t,
		"ppt/slides/slide10.xml", slideXML("Tenth"),
		"ppt/slides/slide2.xml", slideXML("Second"),
		"ppt/slides/slide1.xml", slideXML("First"),
		"ppt/slides/_rels/slide1.xml.rels", "<Relationships/>",
	)
	got, err := PagesFromBytes(content, ".pptx")
	if err != nil {
		t.Fatalf("PagesFromBytes: %v", err)
	}
	if want := []string{"First", "Second", "Tenth"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPagesFromBytes_notZip(t *testing.T) {
	for _, ext := range []string{".docx", ".pptx", ".odp", ".ods", ".xlsx", ".pdf"} {
		if _, err := PagesFromBytes([]byte("not a zip"), ext); err == nil {
			t.Errorf("%s: expected error", ext)
		}
	}
}

func TestPagesFromBytes_xlsxSheets(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Drug")
	f.SetCellValue("Sheet1", "B1", "Dose")
	f.SetCellValue("Sheet1", "A2", "Metformin")
	f.SetCellValue("Sheet1", "B2", "500 mg")
	if _, err := f.NewSheet("Notes"); err != nil {
		t.Fatal(err)
	}
	f.SetCellValue("Notes", "A1", "Take with food")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := PagesFromBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("PagesFromBytes: %v", err)
	}
	if want := []string{"Drug\tDose\nMetformin\t500 mg", "Take with food"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPagesFromBytes_odp(t *testing.T) {
	xml := `<office:document><office:body><office:presentation>` +
		`<draw:page draw:name="p1"><draw:text-box><text:h>Title</text:h><text:p>Intro slide</text:p></draw:text-box></draw:page>` +
		`<draw:page draw:name="p2"><draw:text-box><text:p>Dosing</text:p></draw:text-box></draw:page>` +
		`</office:presentation></office:body></office:document>`
	got, err := PagesFromBytes(zipOf(t, "content.xml", xml), ".odp")
	if err != nil {
		t.Fatalf("PagesFromBytes: %v", err)
	}
	if want := []string{"Intro slide Title", "Dosing"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPagesFromBytes_ods(t *testing.T) {
	xml := `<office:document><office:body><office:spreadsheet>` +
		`<table:table table:name="A"><table:table-row><table:table-cell><text:p>Cell 1</text:p></table:table-cell></table:table-row></table:table>` +
		`<table:table table:name="B"><table:table-row><table:table-cell><text:p>Cell 2</text:p></table:table-cell></table:table-row></table:table>` +
		`</office:spreadsheet></office:body></office:document>`
	got, err := PagesFromBytes(zipOf(t, "content.xml", xml), ".ods")
	if err != nil {
		t.Fatalf("PagesFromBytes: %v", err)
	}
	if want := []string{"Cell 1", "Cell 2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPagesFromBytes_odfContentNotFound(t *testing.T) {
	for _, ext := range []string{".odp", ".ods"} {
		if _, err := PagesFromBytes(zipOf(t, "meta.xml", "<m/>"), ext); err == nil {
			t.Errorf("%s: expected error", ext)
		}
	}
}
