package adapter

import (
	"context"
	"net/http"

	"fraudguard/internal/pkg/httpclient"
	"fraudguard/internal/service/fraud/domain"
)

// WebhookAdapter 把被拦截的结账评估 POST 给店铺后台，放行的评估不推送。
type WebhookAdapter struct {
	client *httpclient.Client
	url    string
	header http.Header
}

// NewWebhookAdapter secret 非空时放在 X-Webhook-Secret 请求头里。
func NewWebhookAdapter(client *httpclient.Client, url, secret string) *WebhookAdapter {
	header := http.Header{}
	if secret != "" {
		header.Set("X-Webhook-Secret", secret)
	}
	return &WebhookAdapter{client: client, url: url, header: header}
}

func (a *WebhookAdapter) PublishAssessment(ctx context.Context, event *domain.FraudAssessed) error {
	if event.Allowed {
		return nil
	}
	return a.client.PostJSON(ctx, a.url, event, a.header)
}
