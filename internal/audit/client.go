package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// firstPageToken is what the audit endpoint expects on the initial request.
const firstPageToken = "0_0"

// Event is one mail-delivery record from the platform's audit log.
// Timestamps are normalized to UTC on decode.
type Event struct {
	EventType  string    `json:"eventType"`
	OrgID      int64     `json:"orgId"`
	UserLogin  string    `json:"userLogin"`
	RequestID  string    `json:"requestId"`
	OccurredAt time.Time `json:"date"`
	UID        int64     `json:"uid"`
	FolderName string    `json:"folderName"`
	FolderType string    `json:"folderType"`
	Labels     []string  `json:"labels"`
	MsgID      string    `json:"msgId"`
	Subject    string    `json:"subject"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Cc         string    `json:"cc"`
	Bcc        string    `json:"bcc"`
}

type page struct {
	Events        []Event `json:"events"`
	NextPageToken string  `json:"nextPageToken"`
}

// Client pages the audit-log endpoint. It is read-only with respect to the
// platform and carries the admin OAuth token, not per-mailbox credentials.
type Client struct {
	BaseURL    string
	OrgID      string
	AdminToken string
	PageSize   int
	HTTPClient *http.Client
}

// NewClient returns an audit client with a sane default transport.
func NewClient(baseURL, orgID, adminToken string, pageSize int) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		OrgID:      orgID,
		AdminToken: adminToken,
		PageSize:   pageSize,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// fetchPage requests one page of message-receive events for the date window.
func (c *Client) fetchPage(ctx context.Context, after, before time.Time, pageToken string) (*page, error) {
	if pageToken == "" {
		pageToken = firstPageToken
	}

	query := url.Values{
		"pageSize":   {strconv.Itoa(c.PageSize)},
		"types":      {"message_receive"},
		"afterDate":  {after.UTC().Format("2006-01-02T15:04:05Z")},
		"beforeDate": {before.UTC().Format("2006-01-02T15:04:05Z")},
		"pageToken":  {pageToken},
	}

	endpoint := fmt.Sprintf("%s/security/v1/org/%s/audit_log/mail?%s", c.BaseURL, c.OrgID, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "OAuth "+c.AdminToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "audit log request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("audit log status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var p page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, errors.Wrap(err, "decode audit page")
	}

	for i := range p.Events {
		p.Events[i].OccurredAt = p.Events[i].OccurredAt.UTC()
	}
	return &p, nil
}
