package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/vango-dev/mirror/pkg/dom"
)

// Upload posts the content of r as filename to the stream receiver name
// of node, then fetches the changes the receiver made. Uploads are not
// retried.
func (c *Client) Upload(ctx context.Context, node dom.NodeID, name, filename string, r io.Reader) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("client: read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	target := fmt.Sprintf("%s/ui/%s/upload/%d/%s",
		c.base.String(), url.PathEscape(c.hs.UIID), node, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: upload: %w", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: 404 no receiver %q on node %d", ErrRejected, name, node)
	}
	if err := statusError(resp.StatusCode, data); err != nil {
		return err
	}
	return c.Refresh(ctx)
}
