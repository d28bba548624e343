package mail

import (
	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// BodyText converts an HTML email body to markdown-ish plain text.
// School newsletters are almost always HTML-only; the converter keeps
// the text and link structure the scorer and classifier read.
func BodyText(html string) (string, error) {
	return htmltomarkdown.ConvertString(html)
}
