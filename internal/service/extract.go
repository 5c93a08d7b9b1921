package service

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// ErrNoExtractor marks document kinds that are stored but not indexed.
var ErrNoExtractor = errors.New("no text extractor for document kind")

var textKinds = map[string]struct{}{
	"txt": {}, "md": {}, "markdown": {}, "csv": {}, "tsv": {}, "json": {}, "xml": {},
	"yaml": {}, "yml": {}, "html": {}, "htm": {}, "log": {},
}

// maxMIMEDepth bounds nested multipart bodies.
const maxMIMEDepth = 8

// ExtractText returns the indexable text of a document. Kinds without an
// extractor return ErrNoExtractor.
func ExtractText(kind string, data []byte) (string, error) {
	if _, ok := textKinds[kind]; ok {
		return strings.ToValidUTF8(string(data), ""), nil
	}
	if kind == "eml" {
		return extractMail(data)
	}
	return "", fmt.Errorf("%w: %s", ErrNoExtractor, kind)
}

func extractMail(data []byte) (string, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse message: %w", err)
	}

	var dec mime.WordDecoder
	var b strings.Builder
	for _, h := range []string{"Subject", "From", "To", "Date"} {
		v := msg.Header.Get(h)
		if v == "" {
			continue
		}
		if decoded, err := dec.DecodeHeader(v); err == nil {
			v = decoded
		}
		fmt.Fprintf(&b, "%s: %s\n", h, v)
	}

	body, err := mailBody(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body, 0)
	if err != nil {
		return "", err
	}
	if body != "" {
		b.WriteString("\n")
		b.WriteString(body)
	}
	return strings.ToValidUTF8(b.String(), ""), nil
}

// mailBody prefers text/plain and falls back to text/html within
// multipart/alternative. Attachments are skipped.
func mailBody(contentType, encoding string, r io.Reader, depth int) (string, error) {
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		if depth >= maxMIMEDepth {
			return "", nil
		}
		mr := multipart.NewReader(r, params["boundary"])
		var plain, html []string
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return "", fmt.Errorf("read mime part: %w", err)
			}
			if isAttachment(part) {
				continue
			}
			partType := part.Header.Get("Content-Type")
			text, err := mailBody(partType, part.Header.Get("Content-Transfer-Encoding"), part, depth+1)
			if err != nil {
				return "", err
			}
			if text == "" {
				continue
			}
			if strings.HasPrefix(strings.ToLower(partType), "text/html") {
				html = append(html, text)
			} else {
				plain = append(plain, text)
			}
		}
		if len(plain) > 0 {
			return strings.Join(plain, "\n\n"), nil
		}
		return strings.Join(html, "\n\n"), nil
	}

	if !strings.HasPrefix(mediaType, "text/") {
		return "", nil
	}
	raw, err := io.ReadAll(decodeTransfer(encoding, r))
	if err != nil {
		return "", fmt.Errorf("decode body: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	default:
		return r
	}
}

func isAttachment(part *multipart.Part) bool {
	disp, _, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	return err == nil && disp == "attachment"
}
