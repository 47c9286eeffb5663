// Package moodle is a stateless pass-through client for the Moodle REST
// web service used as the course catalog.
package moodle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Configured() bool {
	return c.baseURL != "" && c.token != ""
}

type Course struct {
	ID        int64  `json:"id"`
	ShortName string `json:"shortname"`
	FullName  string `json:"fullname"`
	Summary   string `json:"summary"`
}

type moodleError struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}

func (c *Client) Courses(ctx context.Context) ([]Course, error) {
	endpoint := c.baseURL + "/webservice/rest/server.php"
	query := url.Values{}
	query.Set("wstoken", c.token)
	query.Set("wsfunction", "core_course_get_courses")
	query.Set("moodlewsrestformat", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("moodle responded %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// Moodle reports faults as a JSON object with HTTP 200.
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var fault moodleError
		if err := json.Unmarshal(trimmed, &fault); err == nil && fault.Exception != "" {
			return nil, fmt.Errorf("moodle fault %s: %s", fault.ErrorCode, fault.Message)
		}
	}

	var courses []Course
	if err := json.Unmarshal(trimmed, &courses); err != nil {
		return nil, err
	}
	return courses, nil
}
