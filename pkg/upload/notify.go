package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

// WebhookEventType is the type field of the completion payload
const WebhookEventType = "tedoori_upload_done"

// Notifier announces a finished upload run
type Notifier interface {
	Notify(ctx context.Context, totals models.UploadTotals) error
}

// WebhookNotifier POSTs the run totals as JSON
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier posts to url with client.
func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: client}
}

// Notify implements Notifier
func (n *WebhookNotifier) Notify(ctx context.Context, totals models.UploadTotals) error {
	totals.Type = WebhookEventType
	payload, err := json.Marshal(totals)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return utils.NewHTTPStatusError(resp.StatusCode, resp.Status)
	}
	return nil
}
