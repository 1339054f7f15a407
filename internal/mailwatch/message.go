package mailwatch

import (
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"github.com/PuerkitoBio/goquery"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
)

// Address is one parsed mailbox.
type Address struct {
	Name  string
	Email string
}

// Message is the part of an inbound email the watcher reads.
type Message struct {
	From    []Address
	To      []Address
	Subject string
	Body    string // plain text; HTML-only messages are flattened
}

// ParseMessage reads raw RFC 822 bytes. The first text/plain part wins; an
// HTML part is used only when no plain part exists.
func ParseMessage(raw []byte) (Message, error) {
	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return Message{}, fmt.Errorf("parse message: %w", err)
	}
	defer mr.Close()

	var m Message
	m.Subject, _ = mr.Header.Subject()
	m.From = addresses(mr.Header, "From")
	m.To = addresses(mr.Header, "To")

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// keep what was read so far; a broken trailing part is common
			break
		}
		h, ok := p.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		b, err := io.ReadAll(io.LimitReader(p.Body, 1<<20))
		if err != nil {
			continue
		}
		switch {
		case ct == "text/plain" && plain == "":
			plain = string(b)
		case ct == "text/html" && html == "":
			html = string(b)
		}
	}

	switch {
	case plain != "":
		m.Body = strings.TrimSpace(plain)
	case html != "":
		m.Body = htmlText(html)
	}
	return m, nil
}

func addresses(h gomail.Header, key string) []Address {
	list, err := h.AddressList(key)
	if err != nil {
		// fall back to the lenient stdlib parser for odd headers
		list = nil
		if parsed, perr := mail.ParseAddressList(h.Get(key)); perr == nil {
			for _, a := range parsed {
				list = append(list, &gomail.Address{Name: a.Name, Address: a.Address})
			}
		}
	}
	out := make([]Address, 0, len(list))
	for _, a := range list {
		out = append(out, Address{Name: strings.TrimSpace(a.Name), Email: strings.ToLower(strings.TrimSpace(a.Address))})
	}
	return out
}

func htmlText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// freeMail domains never identify an employer.
var freeMail = map[string]bool{
	"gmail": true, "googlemail": true, "outlook": true, "hotmail": true,
	"yahoo": true, "icloud": true, "proton": true, "protonmail": true,
}

// senderCompanies returns the names a reply's sender may go by, most
// specific first: display names, then the organisation label of the domain.
func senderCompanies(from []Address) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[strings.ToLower(s)] {
			return
		}
		seen[strings.ToLower(s)] = true
		out = append(out, s)
	}
	for _, a := range from {
		add(a.Name)
	}
	for _, a := range from {
		_, domain, ok := strings.Cut(a.Email, "@")
		if !ok {
			continue
		}
		labels := strings.Split(domain, ".")
		if len(labels) < 2 {
			continue
		}
		org := labels[len(labels)-2]
		if !freeMail[org] {
			add(org)
		}
	}
	return out
}
