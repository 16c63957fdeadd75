package salesforce

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// CollectionLimit is the most records one sObject Collections request accepts.
const CollectionLimit = 200

// CreateRecord implements API.
func (c *Connection) CreateRecord(ctx context.Context, object string, record Record) (*SaveResult, error) {
	var out SaveResult
	if _, err := c.sendJSON(ctx, "create", http.MethodPost, c.dataPath("sobjects", object), stripAttributes(record), &out); err != nil {
		return nil, err
	}
	out.Created = true
	return &out, nil
}

// UpdateRecord implements API.
func (c *Connection) UpdateRecord(ctx context.Context, object, id string, record Record) error {
	_, err := c.sendJSON(ctx, "update", http.MethodPatch, c.dataPath("sobjects", object, id), stripAttributes(record), nil)
	return err
}

// DeleteRecord implements API.
func (c *Connection) DeleteRecord(ctx context.Context, object, id string) error {
	_, err := c.do(ctx, &request{op: "delete", method: http.MethodDelete, path: c.dataPath("sobjects", object, id)})
	return err
}

// UpsertRecord implements API. A 201 response means the record was created.
func (c *Connection) UpsertRecord(ctx context.Context, object, externalIDField, externalID string, record Record) (*SaveResult, error) {
	body := stripAttributes(record)
	delete(body, externalIDField)

	var out SaveResult
	path := c.dataPath("sobjects", object, externalIDField, url.PathEscape(externalID))
	resp, err := c.sendJSON(ctx, "upsert", http.MethodPatch, path, body, &out)
	if err != nil {
		return nil, err
	}
	out.Created = resp.statusCode == http.StatusCreated
	if len(resp.body) == 0 {
		out.Success = true
	}
	return &out, nil
}

type collectionRequest struct {
	AllOrNone bool     `json:"allOrNone"`
	Records   []Record `json:"records"`
}

// CreateCollection implements API, splitting records into requests of at
// most CollectionLimit.
func (c *Connection) CreateCollection(ctx context.Context, object string, records []Record, allOrNone bool) ([]SaveResult, error) {
	return c.collection(ctx, "create", http.MethodPost, c.dataPath("composite", "sobjects"), object, records, allOrNone)
}

// UpdateCollection implements API.
func (c *Connection) UpdateCollection(ctx context.Context, object string, records []Record, allOrNone bool) ([]SaveResult, error) {
	return c.collection(ctx, "update", http.MethodPatch, c.dataPath("composite", "sobjects"), object, records, allOrNone)
}

// UpsertCollection implements API.
func (c *Connection) UpsertCollection(ctx context.Context, object, externalIDField string, records []Record, allOrNone bool) ([]SaveResult, error) {
	return c.collection(ctx, "upsert", http.MethodPatch, c.dataPath("composite", "sobjects", object, externalIDField), object, records, allOrNone)
}

func (c *Connection) collection(ctx context.Context, op, method, path, object string, records []Record, allOrNone bool) ([]SaveResult, error) {
	results := make([]SaveResult, 0, len(records))
	for start := 0; start < len(records); start += CollectionLimit {
		end := min(start+CollectionLimit, len(records))
		chunk := make([]Record, 0, end-start)
		for _, r := range records[start:end] {
			chunk = append(chunk, withType(object, r))
		}
		var out []SaveResult
		if _, err := c.sendJSON(ctx, op, method, path, collectionRequest{AllOrNone: allOrNone, Records: chunk}, &out); err != nil {
			return nil, err
		}
		results = append(results, out...)
	}
	return results, nil
}

// DeleteCollection implements API.
func (c *Connection) DeleteCollection(ctx context.Context, ids []string, allOrNone bool) ([]SaveResult, error) {
	results := make([]SaveResult, 0, len(ids))
	for start := 0; start < len(ids); start += CollectionLimit {
		end := min(start+CollectionLimit, len(ids))
		query := url.Values{
			"ids":       {strings.Join(ids[start:end], ",")},
			"allOrNone": {strconv.FormatBool(allOrNone)},
		}
		resp, err := c.do(ctx, &request{op: "delete", method: http.MethodDelete, path: c.dataPath("composite", "sobjects"), query: query})
		if err != nil {
			return nil, err
		}
		var out []SaveResult
		if err := decodeJSON("delete", resp.body, &out); err != nil {
			return nil, err
		}
		results = append(results, out...)
	}
	return results, nil
}

// stripAttributes copies r without the "attributes" key returned by queries.
func stripAttributes(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		if k == "attributes" {
			continue
		}
		out[k] = v
	}
	return out
}

func withType(object string, r Record) Record {
	out := stripAttributes(r)
	out["attributes"] = map[string]any{"type": object}
	return out
}
