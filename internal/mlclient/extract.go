package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
)

// LabValues are the liver panel values read from an uploaded report.
// Values the service could not find stay nil.
type LabValues struct {
	ALT       *float64 `json:"alt"`
	AST       *float64 `json:"ast"`
	ALP       *float64 `json:"alp"`
	Bilirubin *float64 `json:"bilirubin"`
	Albumin   *float64 `json:"albumin"`
}

// Found reports how many values were extracted
func (l *LabValues) Found() int {
	n := 0
	for _, v := range []*float64{l.ALT, l.AST, l.ALP, l.Bilirubin, l.Albumin} {
		if v != nil {
			n++
		}
	}
	return n
}

// numberField reads a value that may be a JSON number or a numeric string
func numberField(fields map[string]interface{}, name string) *float64 {
	for key, raw := range fields {
		if !strings.EqualFold(key, name) {
			continue
		}
		switch v := raw.(type) {
		case float64:
			return &v
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err == nil {
				return &f
			}
		}
	}
	return nil
}

func parseLabValues(fields map[string]interface{}) *LabValues {
	// Some service versions nest the values under "values".
	if nested, ok := fields["values"].(map[string]interface{}); ok {
		fields = nested
	}
	return &LabValues{
		ALT:       numberField(fields, "alt"),
		AST:       numberField(fields, "ast"),
		ALP:       numberField(fields, "alp"),
		Bilirubin: numberField(fields, "bilirubin"),
		Albumin:   numberField(fields, "albumin"),
	}
}

// Extract uploads a lab report and returns whatever values the service read from it
func (c *Client) Extract(ctx context.Context, filename string, r io.Reader) (*LabValues, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish upload: %w", err)
	}
	payload := body.Bytes()

	result, err := c.call(ctx, endpointExtract, "OCR", c.extractBreaker, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpointExtract, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create extract request: %w", err)
		}
		req.Header.Set("Content-Type", form.FormDataContentType())
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if err := checkStatus(endpointExtract, resp); err != nil {
			return nil, err
		}
		var fields map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
			return nil, fmt.Errorf("failed to decode extracted values: %w", err)
		}
		return parseLabValues(fields), nil
	})
	if err != nil {
		return nil, err
	}

	values := result.(*LabValues)
	c.log.WithField("found", values.Found()).Debug("Extracted lab values")
	return values, nil
}
