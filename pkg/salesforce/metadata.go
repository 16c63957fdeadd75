package salesforce

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
)

// MetadataBatchLimit is the most components one CRUD metadata call accepts.
const MetadataBatchLimit = 10

type upsertMetadataResponse struct {
	Results []MetadataSaveResult `xml:"Body>upsertMetadataResponse>result"`
}

// UpsertMetadata implements API.
func (c *Connection) UpsertMetadata(ctx context.Context, metadataType string, components []MetadataComponent) ([]MetadataSaveResult, error) {
	var results []MetadataSaveResult
	for start := 0; start < len(components); start += MetadataBatchLimit {
		end := min(start+MetadataBatchLimit, len(components))

		var body bytes.Buffer
		fmt.Fprintf(&body, `<upsertMetadata xmlns=%q>`, metadataNS)
		for _, comp := range components[start:end] {
			fmt.Fprintf(&body, `<metadata xsi:type=%q>`, metadataType)
			fields := make(map[string]any, len(comp.Fields)+1)
			for k, v := range comp.Fields {
				fields[k] = v
			}
			fields["fullName"] = comp.FullName
			writeFields(&body, fields)
			body.WriteString("</metadata>")
		}
		body.WriteString("</upsertMetadata>")

		resp, err := c.soap(ctx, "upsert_metadata", "upsertMetadata", body.String())
		if err != nil {
			return nil, err
		}
		var out upsertMetadataResponse
		if err := xml.Unmarshal(resp.body, &out); err != nil {
			return nil, fmt.Errorf("upsert_metadata: decode response: %w", err)
		}
		results = append(results, out.Results...)
	}
	return results, nil
}

// ReadMetadata implements API. Names that do not exist are omitted.
func (c *Connection) ReadMetadata(ctx context.Context, metadataType string, fullNames []string) ([]Record, error) {
	records := []Record{}
	for start := 0; start < len(fullNames); start += MetadataBatchLimit {
		end := min(start+MetadataBatchLimit, len(fullNames))

		var body bytes.Buffer
		fmt.Fprintf(&body, `<readMetadata xmlns=%q>`, metadataNS)
		writeText(&body, "type", metadataType)
		for _, name := range fullNames[start:end] {
			writeText(&body, "fullNames", name)
		}
		body.WriteString("</readMetadata>")

		resp, err := c.soap(ctx, "read_metadata", "readMetadata", body.String())
		if err != nil {
			return nil, err
		}
		found, err := collectElements(resp.body, "records")
		if err != nil {
			return nil, err
		}
		for _, v := range found {
			rec, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if name, _ := rec["fullName"].(string); name == "" {
				continue
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

func (c *Connection) soap(ctx context.Context, op, action, body string) (*response, error) {
	header := fmt.Sprintf(`<SessionHeader xmlns=%q>`, metadataNS)
	var h bytes.Buffer
	h.WriteString(header)
	writeText(&h, "sessionId", c.AccessToken())
	h.WriteString("</SessionHeader>")

	return c.do(ctx, &request{
		op:          op,
		method:      http.MethodPost,
		path:        "/services/Soap/m/" + c.cfg.APIVersion,
		body:        soapEnvelope(h.String(), body),
		contentType: "text/xml; charset=UTF-8",
		accept:      "text/xml",
		headers:     map[string]string{"SOAPAction": action},
	})
}
