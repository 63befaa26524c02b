package delivery

import (
	"bytes"
	"io"
	"net/url"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// renderParts writes h plus the message's rendered text/html parts
// into a multipart/alternative mail.Writer, falling back to a single
// text/plain part when only Text/Body is set.
func renderParts(h mail.Header, m *models.Message) ([]byte, error) {
	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	plain := m.Text
	if plain == "" {
		plain = m.Body
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}

	var ph mail.InlineHeader
	ph.Set("Content-Type", "text/plain; charset=utf-8")
	pw, err := tw.CreatePart(ph)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(pw, plain); err != nil {
		return nil, err
	}
	if err := pw.Close(); err != nil {
		return nil, err
	}

	if m.HTML != "" {
		var hh mail.InlineHeader
		hh.Set("Content-Type", "text/html; charset=utf-8")
		hw, err := tw.CreatePart(hh)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(hw, m.HTML); err != nil {
			return nil, err
		}
		if err := hw.Close(); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), finish(mw)
}

func finish(mw *mail.Writer) error { return mw.Close() }

// newFormBody encodes an application/x-www-form-urlencoded body.
func newFormBody(form url.Values) io.Reader {
	return strings.NewReader(form.Encode())
}
