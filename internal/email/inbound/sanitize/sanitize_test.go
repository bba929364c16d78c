package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTMLStripsScriptKeepsTable(t *testing.T) {
	s := New()
	in := `<div><script>alert("xss")</script><table border="1"><tr><td>cell</td></tr></table></div>`
	out := s.HTML(in)
	require.NotContains(t, out, "script")
	require.NotContains(t, out, "alert")
	require.Contains(t, out, "<table")
	require.Contains(t, out, "<td>cell</td>")
}

func TestHTMLRemovesDenylistedContent(t *testing.T) {
	s := New()
	cases := []string{
		`<iframe src="https://evil.example"></iframe>`,
		`<object data="x"></object>`,
		`<embed src="x">`,
		`<form action="/steal"><input name="pw"><button>go</button></form>`,
		`<style>body{display:none}</style>`,
	}
	for _, in := range cases {
		out := s.HTML(`<p>keep</p>` + in)
		require.Contains(t, out, "keep")
		require.NotContains(t, out, "evil.example")
		require.NotContains(t, out, "steal")
		require.NotContains(t, out, "display:none")
	}
}

func TestHTMLDropsEventHandlersAndJSURLs(t *testing.T) {
	s := New()
	out := s.HTML(`<a href="javascript:alert(1)" onclick="x()">click</a>`)
	require.NotContains(t, out, "javascript:")
	require.NotContains(t, out, "onclick")
	require.Contains(t, out, "click")
}

func TestHTMLKeepsInlineStyleAndImages(t *testing.T) {
	s := New()
	out := s.HTML(`<div style="color:red"><img src="https://cdn.example/x.png" alt="logo"></div>`)
	require.Contains(t, out, `style="color:red"`)
	require.Contains(t, out, `src="https://cdn.example/x.png"`)
}

func TestPlainTextStripsMarkup(t *testing.T) {
	s := New()
	out := s.PlainText("Hello <b>world</b> &amp; friends\r\nnext\tline")
	require.Equal(t, "Hello world & friends\nnext line", out)
}

func TestPlainTextCollapsesRuns(t *testing.T) {
	s := New()
	out := s.PlainText("a    b\t\tc\n\n\n\n\nd")
	require.Equal(t, "a b c\n\nd", out)
}

func TestPlainTextDecodesEncodedWords(t *testing.T) {
	s := New()
	out := s.PlainText("=?UTF-8?Q?Caf=C3=A9?= order")
	require.Contains(t, out, "Café")
}

func TestCleanDispatches(t *testing.T) {
	s := New()
	require.Contains(t, s.Clean("<p>hi</p>", true), "<p>hi</p>")
	require.Equal(t, "hi", s.Clean("<p>hi</p>", false))
}

func TestIsHTML(t *testing.T) {
	require.True(t, IsHTML("<html><body>x</body></html>"))
	require.True(t, IsHTML("some <DIV>text</DIV>"))
	require.True(t, IsHTML("a <p>b</p>"))
	require.False(t, IsHTML("2 < 3 and plain text"))
	require.False(t, IsHTML(""))
}

func TestFinishDropsLeakedHeaderBlock(t *testing.T) {
	s := New()
	out := s.PlainText("From: a@x.com\nSubject: leak\n\nreal body")
	require.Equal(t, "real body", out)
}

func TestBodyCeiling(t *testing.T) {
	s := New()
	long := strings.Repeat("x", 70000)
	out := s.PlainText(long)
	require.Len(t, []rune(out), 65535)
	require.True(t, strings.HasSuffix(out, "..."))
	require.Equal(t, strings.Repeat("x", 65532), strings.TrimSuffix(out, "..."))

	exact := strings.Repeat("x", 65535)
	require.Equal(t, exact, s.PlainText(exact))
}
