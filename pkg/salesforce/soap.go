package salesforce

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	xsiNS          = "http://www.w3.org/2001/XMLSchema-instance"
	metadataNS     = "http://soap.sforce.com/2006/04/metadata"
	partnerNS      = "urn:partner.soap.sforce.com"
)

// soapEnvelope wraps body in a SOAP 1.1 envelope. header may be empty.
func soapEnvelope(header, body string) []byte {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	fmt.Fprintf(&b, `<soapenv:Envelope xmlns:soapenv=%q xmlns:xsi=%q>`, soapEnvelopeNS, xsiNS)
	b.WriteString("<soapenv:Header>")
	b.WriteString(header)
	b.WriteString("</soapenv:Header><soapenv:Body>")
	b.WriteString(body)
	b.WriteString("</soapenv:Body></soapenv:Envelope>")
	return b.Bytes()
}

func writeText(b *bytes.Buffer, name, value string) {
	b.WriteString("<" + name + ">")
	_ = xml.EscapeText(b, []byte(value))
	b.WriteString("</" + name + ">")
}

// writeValue renders v as one or more elements called name. Maps become
// nested elements with fullName first and the rest sorted; slices repeat
// the element.
func writeValue(b *bytes.Buffer, name string, v any) {
	switch t := v.(type) {
	case nil:
		return
	case map[string]any:
		b.WriteString("<" + name + ">")
		writeFields(b, t)
		b.WriteString("</" + name + ">")
	case []any:
		for _, item := range t {
			writeValue(b, name, item)
		}
	case []string:
		for _, item := range t {
			writeText(b, name, item)
		}
	case string:
		writeText(b, name, t)
	case bool:
		writeText(b, name, strconv.FormatBool(t))
	case float64:
		writeText(b, name, strconv.FormatFloat(t, 'f', -1, 64))
	case int:
		writeText(b, name, strconv.Itoa(t))
	default:
		writeText(b, name, fmt.Sprint(t))
	}
}

func writeFields(b *bytes.Buffer, fields map[string]any) {
	if v, ok := fields["fullName"]; ok {
		writeValue(b, "fullName", v)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "fullName" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeValue(b, k, fields[k])
	}
}

// decodeElement turns the element opened by start into a generic value:
// text for leaves, a map for elements with children. Repeated children
// collapse into a slice.
func decodeElement(d *xml.Decoder, start xml.StartElement) (any, error) {
	children := make(map[string]any)
	var text strings.Builder
	hasChildren := false
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", start.Name.Local, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			hasChildren = true
			v, err := decodeElement(d, t)
			if err != nil {
				return nil, err
			}
			name := t.Name.Local
			switch existing := children[name].(type) {
			case nil:
				children[name] = v
			case []any:
				children[name] = append(existing, v)
			default:
				children[name] = []any{existing, v}
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if hasChildren {
				return children, nil
			}
			return strings.TrimSpace(text.String()), nil
		}
	}
}

// collectElements decodes every element named local found anywhere in data.
func collectElements(data []byte, local string) ([]any, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	var out []any
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode soap response: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != local {
			continue
		}
		v, err := decodeElement(d, start)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}
