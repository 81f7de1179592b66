package evidence

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

const registryTable = `<table class="formStyle02" onclick="steal()">
<tr><th>姓名</th><td>王小明<script>alert(1)</script></td></tr>
<tr><th>初次登錄日期</th><td>114年 5月 13日</td></tr>
</table>`

func TestTableMarkdown(t *testing.T) {
	r := NewRenderer()
	md, err := r.TableMarkdown(registryTable)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"姓名", "王小明", "初次登錄日期", "114年 5月 13日", "|"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown lacks %q:\n%s", want, md)
		}
	}
	for _, bad := range []string{"script", "alert", "steal", "onclick"} {
		if strings.Contains(md, bad) {
			t.Errorf("markdown kept %q:\n%s", bad, md)
		}
	}

	if md, err := r.TableMarkdown("  "); err != nil || md != "" {
		t.Errorf("empty input: %q %v", md, err)
	}
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 24))
	for x := 0; x < 40; x++ {
		img.Set(x, 10, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestPDF(t *testing.T) {
	out, err := PDFBytes(testPNG(t))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF")) {
		t.Fatalf("not a PDF: %q", out[:min(len(out), 16)])
	}
	if _, err := PDFBytes(nil); err == nil {
		t.Fatal("expected error for empty screenshot")
	}
}
