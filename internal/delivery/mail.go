// Package delivery composes and transmits the RFC 8460 aggregate report to
// each destination a TLSRPT record names, by shelling out to an operator
// supplied sendmail or HTTP script rather than talking SMTP/HTTPS directly
// (spec.md §4.5). This mirrors the reference implementation, which never
// owns the transport: it only ever feeds bytes to a configured command.
package delivery

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"mime"
	"time"

	"github.com/emersion/go-message/mail"
)

// ReportMeta carries the envelope fields BuildReport leaves for the
// delivery layer to fill in once per destination.
type ReportMeta struct {
	Domain           string
	OrganizationName string
	ContactInfo      string
	SenderAddress    string
	ReportID         string
	UniqID           int
	Day              string
	CompressionLevel int
}

// AttachmentFilename builds the "org!domain!start!end!uniqid.json.gz" name
// RFC 8460 §3 expects for the MIME attachment.
func AttachmentFilename(meta ReportMeta, startTS, endTS int64) string {
	return fmt.Sprintf("%s!%s!%d!%d!%d.json.gz", meta.OrganizationName, meta.Domain, startTS, endTS, meta.UniqID)
}

// GzipReport compresses a rendered report's JSON encoding at the
// configured level.
func GzipReport(reportJSON []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := w.Write(reportJSON); err != nil {
		w.Close()
		return nil, fmt.Errorf("compressing report: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// ComposeMail builds the RFC 2822 message described in spec.md §4.5: a
// multipart/report (report-type=tlsrpt) message with a one-line human
// readable part and the gzip-compressed JSON report attached.
func ComposeMail(meta ReportMeta, recipient string, gzipped []byte, filename string) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	from := []*mail.Address{{Name: meta.OrganizationName, Address: meta.SenderAddress}}
	to := []*mail.Address{{Address: recipient}}
	if err := h.SetAddressList("From", from); err != nil {
		return nil, fmt.Errorf("setting From: %w", err)
	}
	if err := h.SetAddressList("To", to); err != nil {
		return nil, fmt.Errorf("setting To: %w", err)
	}
	h.SetSubject(fmt.Sprintf("Report Domain: %s Submitter: %s Report-ID: <%s@%s>",
		meta.Domain, meta.OrganizationName, meta.ReportID, meta.OrganizationName))
	msgID, err := mail.GenerateMessageID()
	if err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}
	h.Set("Message-ID", msgID)
	h.Set("TLS-Report-Domain", meta.Domain)
	h.Set("TLS-Report-Submitter", meta.OrganizationName)
	h.Set("TLS-Required", "No")

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating mail writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("creating inline part: %w", err)
	}
	var th mail.InlineHeader
	th.Set("Content-Type", "text/plain; charset=utf-8")
	pw, err := tw.CreatePart(th)
	if err != nil {
		return nil, fmt.Errorf("creating text part: %w", err)
	}
	fmt.Fprintf(pw, "This is a TLS report for domain %s generated by %s.\n",
		meta.Domain, meta.OrganizationName)
	pw.Close()
	tw.Close()

	var ah mail.AttachmentHeader
	ah.Set("Content-Type", "application/tlsrpt+gzip")
	ah.SetFilename(filename)
	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return nil, fmt.Errorf("creating attachment: %w", err)
	}
	if _, err := aw.Write(gzipped); err != nil {
		aw.Close()
		return nil, fmt.Errorf("writing attachment: %w", err)
	}
	aw.Close()
	mw.Close()

	rewritten, err := rewriteContentType(buf.Bytes())
	if err != nil {
		return nil, err
	}
	return rewritten, nil
}

// rewriteContentType replaces the top-level multipart/mixed Content-Type
// go-message produces with multipart/report; report-type=tlsrpt, which
// RFC 8460 requires and which the mail library has no direct setter for.
func rewriteContentType(msg []byte) ([]byte, error) {
	idx := bytes.Index(msg, []byte("\r\nContent-Type: multipart/mixed;"))
	nlLen := 2
	if idx < 0 {
		idx = bytes.Index(msg, []byte("\nContent-Type: multipart/mixed;"))
		nlLen = 1
		if idx < 0 {
			return nil, fmt.Errorf("could not locate top-level Content-Type header")
		}
	}
	headerStart := idx + nlLen
	// The writer emits this header unfolded onto a single line, so a
	// line-oriented scan is enough to find its end.
	lineEnd := bytes.IndexByte(msg[headerStart:], '\n')
	if lineEnd < 0 {
		return nil, fmt.Errorf("could not locate end of Content-Type line")
	}
	headerLine := msg[headerStart : headerStart+lineEnd]
	_, params, err := mime.ParseMediaType(string(bytes.TrimPrefix(headerLine, []byte("Content-Type: "))))
	if err != nil {
		return nil, fmt.Errorf("parsing Content-Type: %w", err)
	}
	boundary := params["boundary"]
	newHeader := fmt.Sprintf("Content-Type: multipart/report; report-type=tlsrpt; boundary=%s\r\n", boundary)

	out := make([]byte, 0, len(msg))
	out = append(out, msg[:headerStart]...)
	out = append(out, []byte(newHeader)...)
	out = append(out, msg[headerStart+lineEnd+1:]...)
	return out, nil
}
